package inventory

import "context"

// Store accepts functional state writes
type Store interface {
	SetFunctional(ctx context.Context, path string, functional bool) error
}

type multi []Store

// Multi writes to every store in order and stops at the first failure
func Multi(stores ...Store) Store {
	out := make(multi, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) SetFunctional(ctx context.Context, path string, functional bool) error {
	for _, s := range m {
		if err := s.SetFunctional(ctx, path, functional); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*Journal)(nil)
