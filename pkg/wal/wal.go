package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileModePrivate rw------- (只有擁有者可讀寫)
const FileModePrivate fs.FileMode = 0600

// ErrBroken 寫入失敗後無法把檔案截回原長度，之後的 Write 一律拒絕，直到重新開啟
var ErrBroken = errors.New("wal unusable after failed write")

// file WAL 需要的檔案操作，*os.File 即滿足
type file interface {
	io.ReadWriteSeeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// WAL 以 JSON Lines 格式追加寫入的 Write-Ahead Log
// 每筆 Write 都會 fsync，回傳 nil 代表資料已落地
//
// 不變量: 檔案中只有最後一筆可能是寫到一半的紀錄，而且那筆從未回報成功
type WAL struct {
	file file
	// size 已確認落地的長度
	size int64
	// err 非 nil 表示 WAL 已停用
	err error
	mu  sync.Mutex
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat wal %s: %w", path, err)
	}
	return &WAL{file: f, size: info.Size()}, nil
}

// Write 寫入一筆資料並刷入硬碟
//
// 失敗時先嘗試把檔案截回寫入前的長度；截不回去就停用 WAL (回傳 ErrBroken)，
// 避免之後的紀錄接在一筆狀態不明的紀錄後面
func (w *WAL) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}

	n, err := w.file.Write(data)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		w.rollback(err)
		return fmt.Errorf("write wal record: %w", err)
	}
	w.size += int64(n)
	return nil
}

// rollback 呼叫端需持有 w.mu
func (w *WAL) rollback(cause error) {
	if err := w.truncate(w.size); err != nil {
		w.err = fmt.Errorf("%w: %w (truncate: %w)", ErrBroken, cause, err)
	}
}

func (w *WAL) truncate(size int64) error {
	if err := w.file.Truncate(size); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.size = size
	return nil
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 從頭依序讀取所有紀錄
// callback 接收單筆紀錄的原始 JSON，避免一次將所有資料載入記憶體
//
// 結尾寫到一半的紀錄 (當機時的 append) 會被截掉，中間的損毀仍回傳錯誤
func (w *WAL) ReadAll(callback func(raw json.RawMessage) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	// O_APPEND 的寫入不受 Seek 影響，讀完後位置無需還原

	decoder := json.NewDecoder(w.file)
	var good int64
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, io.ErrUnexpectedEOF):
				if err := w.truncate(good); err != nil {
					return fmt.Errorf("truncate torn wal record %d: %w", n, err)
				}
				return nil
			}
			return fmt.Errorf("decode wal record %d: %w", n, err)
		}
		if err := callback(raw); err != nil {
			return fmt.Errorf("replay wal record %d: %w", n, err)
		}
		good = decoder.InputOffset()
	}
}
