package candidates

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/utils"
)

// FileCache keeps candidates as a plain JSON array of codes, the coupon_codes.json
// layout. A "{site}" placeholder in the path gives each site its own file; without
// it one file serves every site.
type FileCache struct {
	pattern string
}

func NewFileCache(pattern string) *FileCache { return &FileCache{pattern: pattern} }

func (c *FileCache) path(site string) string {
	return strings.ReplaceAll(c.pattern, "{site}", site)
}

func (c *FileCache) Save(_ context.Context, list entity.CandidateList) error {
	codes := list.Codes
	if codes == nil {
		codes = []string{}
	}
	b, err := json.MarshalIndent(codes, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(c.path(list.Site), append(b, '\n'))
}

func (c *FileCache) Load(_ context.Context, site string) (*entity.CandidateList, error) {
	p := c.path(site)
	st, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("candidates file %s: %w", p, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	codes, err := LoadCodesFile(p)
	if err != nil {
		return nil, err
	}
	return &entity.CandidateList{Site: site, Codes: codes, Source: "file", UpdatedAt: st.ModTime().UTC()}, nil
}

// LoadCodesFile reads a JSON array of codes or, failing that, one code per line.
// Blank lines and lines starting with # are skipped.
func LoadCodesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCodes(data)
}

// ParseCodes is LoadCodesFile on bytes.
func ParseCodes(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var codes []string
		if err := json.Unmarshal(trimmed, &codes); err != nil {
			return nil, fmt.Errorf("%w: codes file: %w", common.ErrInvalidInput, err)
		}
		return compact(codes), nil
	}

	var codes []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes = append(codes, line)
	}
	return codes, sc.Err()
}

func compact(codes []string) []string {
	out := codes[:0]
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
