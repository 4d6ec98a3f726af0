package boosted

import (
	"context"
	"time"

	"tibiabot/internal/storage"
)

// storeState adapts storage.Store to StateStore.
type storeState struct{ st storage.Store }

// StorageState persists detector state through st. It returns nil for a nil store.
func StorageState(st storage.Store) StateStore {
	if st == nil {
		return nil
	}
	return storeState{st: st}
}

func (s storeState) LoadState(ctx context.Context) (State, bool, error) {
	bs, ok, err := s.st.LoadState(ctx)
	if err != nil || !ok {
		return State{}, ok, err
	}
	return State{Creature: bs.Creature, Boss: bs.Boss}, true, nil
}

func (s storeState) SaveState(ctx context.Context, st State) error {
	return s.st.SaveState(ctx, storage.BoostedState{Creature: st.Creature, Boss: st.Boss, UpdatedAt: time.Now()})
}
