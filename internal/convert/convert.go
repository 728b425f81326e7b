package convert

import "context"

// Category selects which converter handles a request and which external
// tool (if any) it depends on.
type Category string

const (
	CategoryImage  Category = "image"
	CategoryDoc    Category = "doc"
	CategoryVector Category = "vector"
)

// ParseCategory validates a category string coming from a form field.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryImage, CategoryDoc, CategoryVector:
		return Category(s), nil
	default:
		return "", NewErrUnknownCategory(s)
	}
}

// Request is the normalized input handed to a worker. Consumed once.
type Request struct {
	Data         []byte
	Filename     string
	TargetFormat string
	Category     Category

	// Progress, when set, receives coarse percentage updates while the
	// conversion runs. Workers may leave it untouched.
	Progress func(pct int)
}

func (r Request) report(pct int) {
	if r.Progress != nil {
		r.Progress(pct)
	}
}

// Result carries the converted bytes and their MIME type.
type Result struct {
	Data []byte
	MIME string
}

// Worker converts bytes to the requested target format for one category.
type Worker interface {
	Convert(ctx context.Context, req Request) (Result, error)
}
