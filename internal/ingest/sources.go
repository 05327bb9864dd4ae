package ingest

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// SourceList is the YAML document listing pages to ingest.
//
//	urls:
//	  - https://en.wikipedia.org/wiki/Go_(programming_language)
type SourceList struct {
	URLs []string `yaml:"urls"`
}

// LoadSources reads a SourceList from path. Blank and duplicate URLs are dropped; order is kept.
func LoadSources(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read sources file %s", path)
	}
	return ParseSources(data)
}

func ParseSources(data []byte) ([]string, error) {
	var list SourceList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrap(err, "parse sources")
	}

	seen := make(map[string]bool, len(list.URLs))
	urls := make([]string, 0, len(list.URLs))
	for _, u := range list.URLs {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, errors.Newf("source %q is not an http(s) URL", u)
		}
		seen[u] = true
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, errors.New("no source URLs configured")
	}
	return urls, nil
}
