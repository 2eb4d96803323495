package chapters

import (
	"fmt"
	"strconv"
	"strings"
)

// Selection picks chapters by 1-based position. Label matches a chapter
// label first and falls back to a position; Range is "a-b"; List is
// "1,3,7"; From drops everything before a position. Empty fields select
// everything.
type Selection struct {
	Label string
	Range string
	List  string
	From  int
}

func (s Selection) Empty() bool {
	return s.Label == "" && s.Range == "" && s.List == "" && s.From <= 1
}

// Filter applies sel to all. label reports the chapter label used by
// Selection.Label; it may be nil.
func Filter[T any](all []T, sel Selection, label func(T) string) ([]T, error) {
	if sel.From > 1 {
		if sel.From > len(all) {
			return nil, fmt.Errorf("start chapter %d is past the last chapter (%d)", sel.From, len(all))
		}
		all = all[sel.From-1:]
	}

	switch {
	case sel.Label != "":
		return FilterByLabel(all, sel.Label, label)
	case sel.Range != "":
		return FilterRange(all, sel.Range)
	case sel.List != "":
		return FilterList(all, sel.List)
	}
	return all, nil
}

func FilterByLabel[T any](all []T, want string, label func(T) string) ([]T, error) {
	want = strings.TrimSpace(want)
	var out []T
	if label != nil {
		for _, c := range all {
			if label(c) == want {
				out = append(out, c)
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	if idx, err := strconv.Atoi(want); err == nil && idx > 0 && idx <= len(all) {
		return []T{all[idx-1]}, nil
	}
	return nil, fmt.Errorf("no chapter matches %q", want)
}

func FilterRange[T any](all []T, rng string) ([]T, error) {
	a, b, ok := strings.Cut(rng, "-")
	if !ok {
		return nil, fmt.Errorf("invalid range %q (want a-b)", rng)
	}

	start, err1 := strconv.Atoi(strings.TrimSpace(a))
	end, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("invalid range %q (want a-b)", rng)
	}
	if start <= 0 || end <= 0 || start > end || end > len(all) {
		return nil, fmt.Errorf("range %q outside 1-%d", rng, len(all))
	}

	return all[start-1 : end], nil
}

func FilterList[T any](all []T, list string) ([]T, error) {
	var out []T
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid chapter %q in list", p)
		}
		if idx <= 0 || idx > len(all) {
			return nil, fmt.Errorf("chapter %d outside 1-%d", idx, len(all))
		}
		out = append(out, all[idx-1])
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("empty chapter list %q", list)
	}
	return out, nil
}
