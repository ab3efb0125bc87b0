package saver

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/maxz073/finm-dashboard/internal/model"
)

// CSVSaver stores an excerpt as CSV (header: entity_id,date,price[,volume][,return]).
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(rows []model.PriceObservation, columns []string, path string) error {
	if err := ValidateColumns(columns); err != nil {
		return err
	}
	return writeAtomic(path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := EncodeCSV(f, rows, columns); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// EncodeCSV writes the canonical CSV form. Identical input gives identical bytes.
func EncodeCSV(w io.Writer, rows []model.PriceObservation, columns []string) error {
	withVolume := hasColumn(columns, ColumnVolume)
	withReturn := hasColumn(columns, ColumnReturn)
	cw := csv.NewWriter(w)

	header := append([]string{"entity_id", "date", "price"}, SortColumns(columns)...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, o := range rows {
		rec := []string{o.EntityID, o.Date.Format(model.DateLayout), o.Price.StringFixed(model.PriceScale)}
		if withVolume {
			v := ""
			if o.Volume != nil {
				v = strconv.FormatInt(*o.Volume, 10)
			}
			rec = append(rec, v)
		}
		if withReturn {
			r := ""
			if o.Return != nil {
				r = o.Return.StringFixed(model.ReturnScale)
			}
			rec = append(rec, r)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVBytes returns the canonical CSV form in memory (used for checksums).
func CSVBytes(rows []model.PriceObservation, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, rows, columns); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (CSVSaver) Load(path string) ([]model.PriceObservation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCSV(f)
}

// DecodeCSV parses the canonical CSV form.
func DecodeCSV(r io.Reader) ([]model.PriceObservation, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, required := range []string{"entity_id", "date", "price"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", required)
		}
	}
	volIdx, withVolume := idx[ColumnVolume]
	retIdx, withReturn := idx[ColumnReturn]

	var out []model.PriceObservation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		date, err := model.ParseDate(rec[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		price, err := decimal.NewFromString(rec[idx["price"]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: parse price: %w", line, err)
		}
		o := model.PriceObservation{EntityID: rec[idx["entity_id"]], Date: date, Price: price}
		if withVolume && rec[volIdx] != "" {
			v, err := strconv.ParseInt(rec[volIdx], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: parse volume: %w", line, err)
			}
			o.Volume = &v
		}
		if withReturn && rec[retIdx] != "" {
			r, err := decimal.NewFromString(rec[retIdx])
			if err != nil {
				return nil, fmt.Errorf("csv line %d: parse return: %w", line, err)
			}
			o.Return = &r
		}
		out = append(out, o)
	}
	return out, nil
}
