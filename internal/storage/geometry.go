package storage

import (
	"fmt"

	"github.com/paulmach/orb/encoding/wkb"

	"stratasample/internal/model"
)

// Column layout shared by the SQL backends. The names match the muestreo
// tables already loaded for this layer so runs append to them directly.
const recordColumns = "uuid_muestra, year, clase_referencia, valor, x, y, geometria"

func encodePoint(rec model.Record) ([]byte, error) {
	data, err := wkb.Marshal(rec.Point())
	if err != nil {
		return nil, fmt.Errorf("encode point %s: %w", rec.SampleID, err)
	}
	return data, nil
}
