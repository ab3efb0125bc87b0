package saver

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// Parquet layouts, one per set of optional columns, so a file carries only
// the columns asked for.
type priceRow struct {
	EntityID string  `parquet:"entity_id,dict"`
	Date     int32   `parquet:"date,date"` // days since Unix epoch
	Price    float64 `parquet:"price"`
}

type priceRowVolume struct {
	EntityID string  `parquet:"entity_id,dict"`
	Date     int32   `parquet:"date,date"`
	Price    float64 `parquet:"price"`
	Volume   *int64  `parquet:"volume,optional"`
}

type priceRowReturn struct {
	EntityID string   `parquet:"entity_id,dict"`
	Date     int32    `parquet:"date,date"`
	Price    float64  `parquet:"price"`
	Return   *float64 `parquet:"return,optional"`
}

type priceRowFull struct {
	EntityID string   `parquet:"entity_id,dict"`
	Date     int32    `parquet:"date,date"`
	Price    float64  `parquet:"price"`
	Volume   *int64   `parquet:"volume,optional"`
	Return   *float64 `parquet:"return,optional"`
}

// ParquetSaver stores an excerpt as Parquet.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(rows []model.PriceObservation, columns []string, path string) error {
	if err := ValidateColumns(columns); err != nil {
		return err
	}
	withVolume, withReturn := hasColumn(columns, ColumnVolume), hasColumn(columns, ColumnReturn)
	switch {
	case withVolume && withReturn:
		return saveRows(path, rows, func(o model.PriceObservation) priceRowFull {
			return priceRowFull{EntityID: o.EntityID, Date: epochDays(o.Date), Price: o.Price.InexactFloat64(), Volume: o.Volume, Return: returnFloat(o.Return)}
		})
	case withVolume:
		return saveRows(path, rows, func(o model.PriceObservation) priceRowVolume {
			return priceRowVolume{EntityID: o.EntityID, Date: epochDays(o.Date), Price: o.Price.InexactFloat64(), Volume: o.Volume}
		})
	case withReturn:
		return saveRows(path, rows, func(o model.PriceObservation) priceRowReturn {
			return priceRowReturn{EntityID: o.EntityID, Date: epochDays(o.Date), Price: o.Price.InexactFloat64(), Return: returnFloat(o.Return)}
		})
	default:
		return saveRows(path, rows, func(o model.PriceObservation) priceRow {
			return priceRow{EntityID: o.EntityID, Date: epochDays(o.Date), Price: o.Price.InexactFloat64()}
		})
	}
}

func (ParquetSaver) Load(path string) ([]model.PriceObservation, error) {
	has, err := parquetHasColumns(path, ColumnVolume, ColumnReturn)
	if err != nil {
		return nil, err
	}
	withVolume, withReturn := has[0], has[1]
	switch {
	case withVolume && withReturn:
		return loadRows(path, func(r priceRowFull) model.PriceObservation {
			return model.PriceObservation{EntityID: r.EntityID, Date: fromEpochDays(r.Date), Price: priceFromFloat(r.Price), Volume: r.Volume, Return: returnFromFloat(r.Return)}
		})
	case withVolume:
		return loadRows(path, func(r priceRowVolume) model.PriceObservation {
			return model.PriceObservation{EntityID: r.EntityID, Date: fromEpochDays(r.Date), Price: priceFromFloat(r.Price), Volume: r.Volume}
		})
	case withReturn:
		return loadRows(path, func(r priceRowReturn) model.PriceObservation {
			return model.PriceObservation{EntityID: r.EntityID, Date: fromEpochDays(r.Date), Price: priceFromFloat(r.Price), Return: returnFromFloat(r.Return)}
		})
	default:
		return loadRows(path, func(r priceRow) model.PriceObservation {
			return model.PriceObservation{EntityID: r.EntityID, Date: fromEpochDays(r.Date), Price: priceFromFloat(r.Price)}
		})
	}
}

func saveRows[T any](path string, rows []model.PriceObservation, conv func(model.PriceObservation) T) error {
	out := make([]T, len(rows))
	for i, o := range rows {
		out[i] = conv(o)
	}
	return writeAtomic(path, func(tmp string) error { return parquet.WriteFile(tmp, out) })
}

func loadRows[T any](path string, conv func(T) model.PriceObservation) ([]model.PriceObservation, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	out := make([]model.PriceObservation, len(rows))
	for i, r := range rows {
		out[i] = conv(r)
	}
	return out, nil
}

// ParquetRowCount reads the row count from the file footer.
func ParquetRowCount(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return 0, fmt.Errorf("open parquet %s: %w", path, err)
	}
	return pf.NumRows(), nil
}

func parquetHasColumns(path string, columns ...string) ([]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	out := make([]bool, len(columns))
	for i, c := range columns {
		_, out[i] = pf.Schema().Lookup(c)
	}
	return out, nil
}

func epochDays(t time.Time) int32 {
	return int32(model.TruncateDay(t).Unix() / 86400)
}

func fromEpochDays(d int32) time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func returnFloat(r *decimal.Decimal) *float64 {
	if r == nil {
		return nil
	}
	f := r.InexactFloat64()
	return &f
}

func returnFromFloat(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	r := model.RoundReturn(decimal.NewFromFloat(*f))
	return &r
}

// priceFromFloat recovers the decimal price; prices are stored with
// PriceScale places so the shortest float representation is exact.
func priceFromFloat(f float64) decimal.Decimal {
	return model.RoundPrice(decimal.NewFromFloat(f))
}
