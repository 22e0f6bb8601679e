package wal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Seq  int
	Note string
}

func TestWAL_WriteAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := NewWAL(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(record{Seq: 1, Note: "a"}))
	require.NoError(t, w.Write(record{Seq: 2, Note: "b"}))
	require.NoError(t, w.Close())

	// 重新開啟後應讀回相同順序
	w, err = NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	var got []record
	err = w.ReadAll(func(raw json.RawMessage) error {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []record{{1, "a"}, {2, "b"}}, got)

	// 讀完之後仍然是追加寫入
	require.NoError(t, w.Write(record{Seq: 3, Note: "c"}))
	count := 0
	require.NoError(t, w.ReadAll(func(json.RawMessage) error { count++; return nil }))
	assert.Equal(t, 3, count)
}

func TestWAL_ReadAllEmpty(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	defer w.Close()

	called := false
	require.NoError(t, w.ReadAll(func(json.RawMessage) error { called = true; return nil }))
	assert.False(t, called)
}

func readSeqs(t *testing.T, w *WAL) []int {
	t.Helper()
	var seqs []int
	require.NoError(t, w.ReadAll(func(raw json.RawMessage) error {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		seqs = append(seqs, r.Seq)
		return nil
	}))
	return seqs
}

func TestWAL_CorruptRecordInTheMiddle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"Seq\":1}\n{\"Seq\":}\n{\"Seq\":3}\n"), FileModePrivate))

	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	err = w.ReadAll(func(json.RawMessage) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestWAL_TornTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"Seq\":1}\n{\"Seq\":2,\"No"), FileModePrivate))

	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []int{1}, readSeqs(t, w))

	// 截掉之後可以繼續追加
	require.NoError(t, w.Write(record{Seq: 2, Note: "again"}))
	assert.Equal(t, []int{1, 2}, readSeqs(t, w))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"No"`)
}

func TestWAL_TornFirstRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	require.NoError(t, os.WriteFile(path, []byte(`{"Se`), FileModePrivate))

	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, readSeqs(t, w))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

// flakyFile 讓 Sync / Truncate 依設定失敗
type flakyFile struct {
	*os.File
	syncFailures int
	truncateErr  error
}

func (f *flakyFile) Sync() error {
	if f.syncFailures > 0 {
		f.syncFailures--
		return errors.New("sync: input/output error")
	}
	return f.File.Sync()
}

func (f *flakyFile) Truncate(size int64) error {
	if f.truncateErr != nil {
		return f.truncateErr
	}
	return f.File.Truncate(size)
}

func TestWAL_FailedSyncRollsBackRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Write(record{Seq: 1}))

	flaky := &flakyFile{File: w.file.(*os.File), syncFailures: 1}
	w.file = flaky

	require.Error(t, w.Write(record{Seq: 2}))
	// 失敗的紀錄已被截掉，同一個順序號可以重新寫入
	assert.Equal(t, []int{1}, readSeqs(t, w))

	require.NoError(t, w.Write(record{Seq: 2}))
	assert.Equal(t, []int{1, 2}, readSeqs(t, w))
}

func TestWAL_UnrecoverableWriteBreaksLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Write(record{Seq: 1}))

	w.file = &flakyFile{
		File:         w.file.(*os.File),
		syncFailures: 1,
		truncateErr:  errors.New("truncate: read-only file system"),
	}

	require.Error(t, w.Write(record{Seq: 2}))

	// 之後的寫入全部拒絕，不會把新紀錄接在狀態不明的紀錄後面
	err = w.Write(record{Seq: 3})
	assert.ErrorIs(t, err, ErrBroken)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"Seq":3`)
}

func TestWAL_CallbackError(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Write(record{Seq: 1}))

	boom := errors.New("boom")
	err = w.ReadAll(func(json.RawMessage) error { return boom })
	assert.ErrorIs(t, err, boom)
}
