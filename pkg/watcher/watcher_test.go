package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDebouncer_MergesBurst(t *testing.T) {
	input := make(chan ChangeEvent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDebouncer(input, 50*time.Millisecond, time.Second)
	d.Start(ctx)

	for i := 0; i < 5; i++ {
		input <- ChangeEvent{Type: ChangeTypeDataset, Paths: []string{"/data/network.csv"}}
	}
	input <- ChangeEvent{Type: ChangeTypeConfig, Paths: []string{"/data/nma.toml"}}

	first := receive(t, d.Output())
	second := receive(t, d.Output())
	assert.Equal(t, ChangeTypeConfig, first.Type)
	assert.Equal(t, ChangeTypeDataset, second.Type)
	assert.Equal(t, []string{"/data/network.csv"}, second.Paths)

	select {
	case ev := <-d.Output():
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	close(input)
	_, ok := <-d.Output()
	assert.False(t, ok, "output closes when input closes")
}

func TestDebouncer_MaxWait(t *testing.T) {
	input := make(chan ChangeEvent)
	ctx, cancel := context.WithCancel(context.Background())

	d := NewDebouncer(input, 80*time.Millisecond, 150*time.Millisecond)
	d.Start(ctx)

	stop := time.After(400 * time.Millisecond)
	got := make(chan ChangeEvent, 10)
	go func() {
		for ev := range d.Output() {
			got <- ev
		}
		close(got)
	}()

feed:
	for {
		select {
		case <-stop:
			break feed
		case input <- ChangeEvent{Type: ChangeTypeDataset, Paths: []string{"/data/network.csv"}}:
			time.Sleep(20 * time.Millisecond)
		}
	}

	// events kept arriving faster than the quiet period, so only maxWait flushed
	select {
	case ev := <-got:
		assert.Equal(t, ChangeTypeDataset, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("max wait never flushed")
	}
	cancel()
	for range got {
	}
}

func TestFileWatcher_SeesWrites(t *testing.T) {
	dir := t.TempDir()
	dataset := filepath.Join(dir, "network.json")
	require.NoError(t, os.WriteFile(dataset, []byte(`{"comparisons":[]}`), 0o644))

	fw, err := NewFileWatcher(dataset, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fw.Start(ctx))

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dataset, []byte(`{"comparisons":[{}]}`), 0o644))

	ev := receive(t, fw.Events())
	assert.Equal(t, ChangeTypeDataset, ev.Type)
	for _, p := range ev.Paths {
		assert.Equal(t, "network.json", filepath.Base(p))
	}

	cancel()
	for range fw.Events() {
	}
	assert.NoError(t, fw.Stop())
}

func TestNewFileWatcher_NothingToWatch(t *testing.T) {
	_, err := NewFileWatcher("", "")
	assert.Error(t, err)
}

func TestAnalyzeChanges(t *testing.T) {
	a := AnalyzeChanges(ChangeEvent{Type: ChangeTypeDataset, Paths: []string{"d.csv"}})
	assert.True(t, a.NeedDatasetLoad)
	assert.False(t, a.NeedConfigReload)

	a = AnalyzeChanges(
		ChangeEvent{Type: ChangeTypeConfig, Paths: []string{"nma.toml"}},
		ChangeEvent{Type: ChangeTypeDataset, Paths: []string{"d.csv"}},
	)
	assert.True(t, a.NeedConfigReload)
	assert.True(t, a.NeedDatasetLoad)
	assert.Equal(t, []string{"nma.toml", "d.csv"}, a.ChangedFiles)
}

func receive(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ChangeEvent{}
}
