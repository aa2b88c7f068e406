package session

import "fmt"

// RowSelector picks the download link of the target day out of the links of
// the result column, in document order.
type RowSelector interface {
	Select(links []Link) (Link, error)
}

// OffsetSelector selects by fixed position from the top of the result column.
// The dashboard renders the most recent days first, with the target day at
// Offset. Fewer than MinRows links means the table did not render as expected.
type OffsetSelector struct {
	Offset  int
	MinRows int
}

func DefaultSelector() OffsetSelector {
	return OffsetSelector{Offset: 1, MinRows: 3}
}

func (s OffsetSelector) Select(links []Link) (Link, error) {
	need := s.MinRows
	if need < s.Offset+1 {
		need = s.Offset + 1
	}
	if s.Offset < 0 || len(links) < need {
		return Link{}, fmt.Errorf(
			"%w: found %d links, need at least %d for offset %d",
			ErrInsufficientResultRows, len(links), need, s.Offset,
		)
	}
	return links[s.Offset], nil
}
