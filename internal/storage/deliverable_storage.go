package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// DeliverableStorage — файловое хранилище результатов работы по вехам.
type DeliverableStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// allowedType проверяет тип файла по сигнатуре, не по расширению.
// Разрешены архивы, документы и изображения.
func allowedType(t types.Type) bool {
	switch t.MIME.Value {
	case "application/zip", "application/gzip", "application/x-tar",
		"application/pdf",
		"image/png", "image/jpeg", "image/webp", "image/svg+xml":
		return true
	}
	return false
}

// NewDeliverableStorage создаёт файловое хранилище.
func NewDeliverableStorage(rootPath string, maxUploadMB int64) (*DeliverableStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &DeliverableStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save сохраняет файл результата и возвращает относительный путь.
// Тип файла определяется по первым байтам содержимого.
func (s *DeliverableStorage) Save(ctx context.Context, milestoneID uuid.UUID, originalName string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	head := make([]byte, 261)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", 0, fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	head = head[:n]

	kind, _ := filetype.Match(head)
	if kind == filetype.Unknown || !allowedType(kind) {
		// Текстовые результаты (код, markdown) сигнатуры не имеют; пропускаем
		// их по расширению.
		ext := strings.ToLower(filepath.Ext(originalName))
		switch ext {
		case ".txt", ".md", ".go", ".js", ".ts", ".py", ".sql", ".json", ".html", ".css":
		default:
			return "", 0, fmt.Errorf("storage: тип файла %q не поддерживается", originalName)
		}
	}

	safeName := sanitizeFilename(originalName)
	fileName := fmt.Sprintf("%d%s", time.Now().UnixNano(), filepath.Ext(safeName))

	dir := filepath.Join(s.rootPath, milestoneID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать каталог вехи: %w", err)
	}

	targetPath := filepath.Join(dir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limitedReader := io.LimitedReader{R: io.MultiReader(bytes.NewReader(head), r), N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", 0, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	relative := filepath.Join(milestoneID.String(), fileName)
	return relative, written, nil
}

// Delete удаляет файл из хранилища.
func (s *DeliverableStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, relativePath)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "deliverable"
	}
	return name
}
