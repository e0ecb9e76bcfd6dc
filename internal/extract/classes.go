package extract

import (
	"fmt"

	"stratasample/internal/model"
)

// ClassTable maps class ids to human-readable names.
type ClassTable map[model.ClassID]string

// Name resolves id, falling back to "Class <id>" for unmapped values.
func (t ClassTable) Name(id model.ClassID) string {
	if name, ok := t[id]; ok {
		return name
	}
	return fmt.Sprintf("Class %d", id)
}

// DefaultClassTable is the wetland land-cover legend of the reference stack.
func DefaultClassTable() ClassTable {
	return ClassTable{
		1:  "Superficie agrícola",
		2:  "Superficie arbórea",
		3:  "Superficie herbácea",
		4:  "Superficie arbustiva y estepas leñosas",
		5:  "Superficies artificiales",
		6:  "Vegetación dispersa",
		7:  "Suelo desnudo",
		8:  "Hielo y nieve",
		9:  "Mares y océanos",
		10: "Turberas Sphagnosas",
		11: "Turberas Sphagnosas y/o Pulvinadas",
		12: "Vegas y mallines",
		13: "Cuerpos de agua continental",
	}
}

// Period binds a time-period label to the band holding its values.
type Period struct {
	Year int `json:"year" yaml:"year"`
	Band int `json:"band" yaml:"band"`
}

// YearPeriods maps consecutive years to consecutive bands starting at firstBand.
func YearPeriods(firstYear, lastYear, firstBand int) []Period {
	if lastYear < firstYear {
		return nil
	}
	out := make([]Period, 0, lastYear-firstYear+1)
	for y := firstYear; y <= lastYear; y++ {
		out = append(out, Period{Year: y, Band: firstBand + y - firstYear})
	}
	return out
}
