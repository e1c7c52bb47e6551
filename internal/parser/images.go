package parser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"bookchat/internal/helper"
	"bookchat/internal/models"
)

var disableConfigDir sync.Once

// pageImage is one image XObject found on a page.
type pageImage struct {
	page     int
	obj      int
	fileType string
	data     []byte
	name     string
}

// ExtractImages writes every embedded image of a PDF to outDir as
// {stem}_page_{page}_image_{index}.png, index starting at 1 on each page.
// Images that cannot be decoded are skipped.
func ExtractImages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	defer f.Close()
	if err := helper.CreateFolder(outDir); err != nil {
		return nil, err
	}

	disableConfigDir.Do(api.DisableConfigDir)

	var found []pageImage
	collect := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := io.ReadAll(img)
		if err != nil {
			return err
		}
		found = append(found, pageImage{page: img.PageNr, obj: img.ObjNr, fileType: img.FileType, data: data})
		return nil
	}
	if err := api.ExtractImages(f, nil, collect, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("extracting images from %s: %w", pdfPath, err)
	}

	planImageNames(BookName(pdfPath), found)
	written := make([]string, 0, len(found))
	for _, img := range found {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		dst := filepath.Join(outDir, img.name)
		if err := writePNG(dst, img); err != nil {
			log.Warn().Err(err).Int("page", img.page).Str("type", img.fileType).Msg("Skipping image")
			continue
		}
		written = append(written, dst)
	}
	log.Info().Str("pdf", pdfPath).Int("images", len(written)).Str("dir", outDir).Msg("Extracted page images")
	return written, nil
}

// planImageNames orders images by page then object number and names
// them with a per-page index.
func planImageNames(stem string, images []pageImage) {
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].page != images[j].page {
			return images[i].page < images[j].page
		}
		return images[i].obj < images[j].obj
	})
	index := 0
	for i := range images {
		if i == 0 || images[i].page != images[i-1].page {
			index = 0
		}
		index++
		images[i].name = fmt.Sprintf(models.ImageNameFormat, stem, images[i].page, index)
	}
}

// writePNG stores png streams as they are and re-encodes anything the
// image package can decode.
func writePNG(dst string, img pageImage) error {
	if img.fileType == "png" {
		return os.WriteFile(dst, img.data, 0o644)
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.data))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0o644)
}
