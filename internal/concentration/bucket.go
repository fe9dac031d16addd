package concentration

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Bucket maps a threshold integer to its metrics. It serializes with the
// dynamic "top_<X>" key convention, thresholds ascending.
type Bucket map[int]Metrics

func (b Bucket) MarshalJSON() ([]byte, error) {
	thresholds := make([]int, 0, len(b))
	for x := range b {
		thresholds = append(thresholds, x)
	}
	sort.Ints(thresholds)

	buf := []byte{'{'}
	for i, x := range thresholds {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(fmt.Sprintf("top_%d", x))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(b[x])
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

func (b *Bucket) UnmarshalJSON(data []byte) error {
	raw := make(map[string]Metrics)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Bucket, len(raw))
	for key, m := range raw {
		var x int
		if _, err := fmt.Sscanf(key, "top_%d", &x); err != nil {
			return fmt.Errorf("concentration: unexpected bucket key %q", key)
		}
		out[x] = m
	}
	*b = out
	return nil
}
