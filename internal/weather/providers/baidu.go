package providers

import (
	"context"
	"fmt"

	"github.com/i474232898/weather-indicator/internal/weather"
)

// BaiduProvider implements the weather.Provider interface for the Baidu Maps
// weather API, whose body carries result.location and result.now.
type BaiduProvider struct {
	name      string
	url       string
	fetcher   *Fetcher
	extractor *weather.Extractor
}

func NewBaiduProvider(fetcher *Fetcher, url string, extractor *weather.Extractor) *BaiduProvider {
	return &BaiduProvider{
		name:      "baidu",
		url:       url,
		fetcher:   fetcher,
		extractor: extractor,
	}
}

func (p *BaiduProvider) Name() string {
	return p.name
}

// Fetch performs the GET and extracts the body into rec.
func (p *BaiduProvider) Fetch(ctx context.Context, rec *weather.Record) error {
	if p.url == "" {
		return fmt.Errorf("%s: weather url is not configured", p.name)
	}
	return p.fetcher.Get(ctx, p.url, func(body []byte) error {
		return p.extractor.Extract(body, rec)
	})
}
