package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/raiden-shogun/pwapi/internal/domain"
)

// gqlEnvelope is the GraphQL response wrapper. Only the branches this service
// queries are declared.
type gqlEnvelope struct {
	Data struct {
		Nations struct {
			Data []domain.Nation `json:"data"`
		} `json:"nations"`
		Alliances struct {
			Data []domain.AllianceSnapshot `json:"data"`
		} `json:"alliances"`
		TradePrices struct {
			Data []domain.TradePrices `json:"data"`
		} `json:"tradeprices"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

type gqlError struct {
	Message string `json:"message"`
}

func decodeEnvelope(body []byte) (*gqlEnvelope, error) {
	var env gqlEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(env.Errors) > 0 {
		msgs := make([]string, len(env.Errors))
		for i, e := range env.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	return &env, nil
}

// parseCSV turns one bulk dump into a Table. The upstream prefixes a BOM on
// some dumps; strip it or the first column name never matches.
func parseCSV(raw []byte) (domain.Table, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return domain.Table{}, fmt.Errorf("read csv header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("read csv row: %w", err)
		}
		rows = append(rows, rec)
	}

	return domain.Table{Columns: header, Rows: rows}, nil
}
