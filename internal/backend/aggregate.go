package backend

import (
	"fmt"
	"strings"

	"github.com/roach88/hybridstore/internal/record"
)

// Supported aggregations.
const (
	AggCount        = "count"
	AggCountByField = "count_by:"
)

// Aggregate evaluates aggregation over serialized payloads.
//
//	"count"            -> Int(number of payloads)
//	"count_by:<field>" -> Object{rendered field value: Int(count)}
//
// Payloads missing the field are counted under "". Payloads that fail to
// decode are skipped for count_by.
func Aggregate(payloads []string, aggregation string) (record.Value, error) {
	switch {
	case aggregation == AggCount:
		return record.Int(len(payloads)), nil

	case strings.HasPrefix(aggregation, AggCountByField):
		field := strings.TrimPrefix(aggregation, AggCountByField)
		if field == "" {
			return nil, &Error{Code: CodeInvalid, Op: "aggregate", Err: fmt.Errorf("count_by requires a field")}
		}
		counts := record.Object{}
		for _, p := range payloads {
			obj, err := record.DecodePayload(p)
			if err != nil {
				continue
			}
			v, _ := obj.Field(field)
			n, _ := counts[v].(record.Int)
			counts[v] = n + 1
		}
		return counts, nil
	}

	return nil, &Error{Code: CodeInvalid, Op: "aggregate", Err: fmt.Errorf("unsupported aggregation %q", aggregation)}
}
