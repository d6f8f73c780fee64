// Package rating provides the concentration rating collaborator and the
// static table mapping rating buckets to corrective actions.
package rating

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrSourceUnavailable is returned when the rating source cannot be queried.
// Callers treat it as "no rating available".
var ErrSourceUnavailable = errors.New("rating source unavailable")

// Source reports the most recent externally observed rating.
// ok is false when no rating has been observed yet.
type Source interface {
	Latest(ctx context.Context) (value int, ok bool, err error)
}

// ActionRequest names the corrective action for a rating bucket.
type ActionRequest struct {
	Name   string
	Bucket int
}

// buckets maps a rating bucket to the recording played for it.
var buckets = map[int]string{
	10: "10_shake",
	11: "11_angry",
	20: "curious",
	21: "21_standup",
	30: "30_nod1",
	31: "31_wiggle",
	40: "excited",
	41: "41_courage",
	50: "happy_wiggle",
	51: "51_scanning",
}

// Lookup returns the action for the given rating, if the rating is a known bucket.
func Lookup(value int) (ActionRequest, bool) {
	name, ok := buckets[value]
	if !ok {
		return ActionRequest{}, false
	}
	return ActionRequest{Name: name, Bucket: value}, true
}

// Buckets returns all known buckets in ascending order.
func Buckets() []ActionRequest {
	result := make([]ActionRequest, 0, len(buckets))
	for bucket, name := range buckets {
		result = append(result, ActionRequest{Name: name, Bucket: bucket})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Bucket < result[j].Bucket })
	return result
}
