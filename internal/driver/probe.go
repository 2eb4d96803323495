package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// DefaultProbeLimit caps sequential probing when a driver sets no limit.
const DefaultProbeLimit = 1000

var reTrailingNumber = regexp.MustCompile(`^(.*[/=\-_])(\d+)/?$`)

// ProbeSequential discovers chapters of readers that number them in the
// URL: starting at sourceRef it counts the trailing number upwards until
// exists reports false. At most limit chapters are returned.
func ProbeSequential(ctx context.Context, sourceRef string, limit int, exists func(ctx context.Context, ref string) (bool, error)) ([]ChapterRef, error) {
	m := reTrailingNumber.FindStringSubmatch(sourceRef)
	if m == nil {
		ok, err := exists(ctx, sourceRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no chapters at %s", ErrNotFound, sourceRef)
		}
		return []ChapterRef{{Title: "Chapter 1", Ref: sourceRef, Number: 1}}, nil
	}

	prefix := m[1]
	start, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("chapter number in %s: %w", sourceRef, err)
	}

	var out []ChapterRef
	for n := start; limit <= 0 || len(out) < limit; n++ {
		ref := sourceRef
		if n != start {
			ref = prefix + strconv.Itoa(n)
		}

		ok, err := exists(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("probe chapter %d: %w", n, err)
		}
		if !ok {
			break
		}
		out = append(out, ChapterRef{Title: fmt.Sprintf("Chapter %d", n), Ref: ref, Number: n})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no chapters at %s", ErrNotFound, sourceRef)
	}
	return out, nil
}
