package layout

import (
	"errors"
	"fmt"
)

// Check verifies that every applet id ended up in exactly one place and
// that placed rectangles stay inside the panel and never overlap
func Check(res *Result, ids []string) error {
	var errs []error
	count := map[string]int{}
	for id := range res.Placed {
		count[id]++
	}
	for _, slots := range res.Overflow {
		for _, s := range slots {
			count[s.ID]++
		}
	}
	for _, id := range res.Unmapped {
		count[id]++
	}
	for _, id := range ids {
		if count[id] != 1 {
			errs = append(errs, fmt.Errorf("applet %s is in %d places", id, count[id]))
		}
		delete(count, id)
	}
	for id := range count {
		errs = append(errs, fmt.Errorf("unknown applet %s in result", id))
	}

	for id, r := range res.Placed {
		if r.Min.X < 0 || r.Min.Y < 0 || r.Max.X > res.Dimensions.X || r.Max.Y > res.Dimensions.Y {
			errs = append(errs, fmt.Errorf("applet %s at %v outside %v", id, r, res.Dimensions))
		}
		for other, o := range res.Placed {
			if other != id && r.Overlaps(o) {
				errs = append(errs, fmt.Errorf("applets %s and %s overlap", id, other))
			}
		}
	}
	return errors.Join(errs...)
}
