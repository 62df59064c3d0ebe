package conversation

import (
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

// EncodeUserTurn builds a user turn from the images in imagesDir followed by
// the prompt text. Each image is preceded by an "Image <stem>:" label so the
// model can refer to it by the renderer's name. An empty imagesDir attaches nothing.
func EncodeUserTurn(prompt string, imagesDir string, logger *slog.Logger) (types.Turn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var parts []types.Part
	if imagesDir != "" {
		images, err := LoadImages(imagesDir, logger)
		if err != nil {
			return types.Turn{}, err
		}
		for _, img := range images {
			parts = append(parts, types.TextPart{Text: fmt.Sprintf("Image %s:", img.Name)}, img)
		}
	}
	parts = append(parts, types.TextPart{Text: prompt})
	return types.Turn{Role: types.RoleUser, Parts: parts}, nil
}

// LoadImages reads every image file in dir in name order.
func LoadImages(dir string, logger *slog.Logger) ([]types.ImagePart, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var images []types.ImagePart
	for _, name := range names {
		mimeType := imageMIMEType(name)
		if mimeType == "" {
			logger.Warn("Skipping non-image file", "file", name, "dir", dir)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", name, err)
		}
		images = append(images, types.ImagePart{
			Name:     strings.TrimSuffix(name, filepath.Ext(name)),
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return images, nil
}

func imageMIMEType(name string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	if !strings.HasPrefix(t, "image/") {
		return ""
	}
	return t
}

// FinalText returns the text the response parser reads: the last text part of the reply.
func FinalText(reply types.Reply) (string, bool) {
	return types.Turn{Parts: reply.Parts}.LastText()
}
