package tablestore

import (
	"context"

	"github.com/coldriver/tablestore/internal/tablestoreconfig"
)

// WatchConfigFile starts watching path for changes and re-arms b's flush
// triggers (flush_at_count, flush_at_bytes, flush_every) on every write,
// without restarting b. It blocks until ctx is done; run it in its own
// goroutine. The file is loaded once immediately before the watch starts,
// so a config file present at startup takes effect right away.
func (b *Batcher) WatchConfigFile(ctx context.Context, path string) error {
	overlay, err := tablestoreconfig.Load(path)
	if err != nil {
		return err
	}
	b.applyOverlay(overlay)

	w, err := tablestoreconfig.NewWatcher(path, b.applyOverlay)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)
}

func (b *Batcher) applyOverlay(overlay *tablestoreconfig.BatcherOverlay) {
	count, bytes, every := overlay.Thresholds()
	b.inner.ApplyThresholds(count, bytes, every)
}
