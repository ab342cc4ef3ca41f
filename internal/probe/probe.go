// Package probe counts pages inside comic archives without extracting them.
// A probe failure is information, not an error condition for callers: Count
// returns 0 together with the cause so scanners can log and move on.
package probe

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/nwaples/rardecode/v2"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// Count returns the page count for the archive at path. Format is the
// lowercased extension without the dot. Unsupported or unreadable archives
// yield (0, err); the zero is always safe to persist.
func Count(filePath, format string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "cbz", "zip":
		return countZipImages(filePath)
	case "cbr", "rar":
		return countRarImages(filePath)
	case "pdf":
		return countPDFPages(filePath)
	case "epub":
		return countEpubSpine(filePath)
	default:
		return 0, fmt.Errorf("unsupported archive format %q", format)
	}
}

func isImageEntry(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func countZipImages(filePath string) (int, error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return 0, fmt.Errorf("open zip archive: %w", err)
	}
	defer reader.Close()

	count := 0
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if isImageEntry(entry.Name) {
			count++
		}
	}
	return count, nil
}

func countRarImages(filePath string) (int, error) {
	reader, err := rardecode.OpenReader(filePath)
	if err != nil {
		return 0, fmt.Errorf("open rar archive: %w", err)
	}
	defer reader.Close()

	count := 0
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read rar entry: %w", err)
		}
		if header.IsDir {
			continue
		}
		if isImageEntry(header.Name) {
			count++
		}
	}
	return count, nil
}

func countPDFPages(filePath string) (int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	count, err := pdfapi.PageCount(file, nil)
	if err != nil {
		return 0, fmt.Errorf("read pdf page count: %w", err)
	}
	return count, nil
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Spine struct {
		Items []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func countEpubSpine(filePath string) (int, error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return 0, fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()

	opfPath, err := epubRootfile(&reader.Reader)
	if err != nil {
		return 0, err
	}

	var pkg epubPackage
	if err := decodeZipEntry(&reader.Reader, opfPath, &pkg); err != nil {
		return 0, err
	}
	return len(pkg.Spine.Items), nil
}

func epubRootfile(reader *zip.Reader) (string, error) {
	var container epubContainer
	if err := decodeZipEntry(reader, "META-INF/container.xml", &container); err != nil {
		return "", err
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("epub container declares no rootfile")
	}
	return container.Rootfiles[0].FullPath, nil
}

func decodeZipEntry(reader *zip.Reader, name string, target any) error {
	for _, entry := range reader.File {
		if entry.Name != name {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		if err := xml.NewDecoder(rc).Decode(target); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("epub entry %s not found", name)
}
