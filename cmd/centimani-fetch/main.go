// Command centimani-fetch issues a single GET request through a Sender and
// prints the response status, header-field count, body size and timing,
// the Go translation of
// the teacher's cmd/simple_pool_test demo -- run it twice against the
// same host to see the second request reuse the pooled connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	centimani "github.com/NoZip/centimani"
)

func main() {
	url := flag.String("url", "https://example.com/", "URL to fetch")
	proxyURL := flag.String("proxy", "", "upstream proxy URL (socks5://, http:// or https://)")
	repeat := flag.Int("repeat", 1, "number of times to fetch the URL, to exercise pooling")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sender := centimani.NewSender()
	defer sender.Close()

	if *proxyURL != "" {
		if err := sender.SetProxy(*proxyURL); err != nil {
			logger.Error("configuring proxy", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx := context.Background()

	for i := 0; i < *repeat; i++ {
		start := time.Now()
		resp, err := sender.Get(ctx, *url)
		if err != nil {
			logger.Error("fetch failed", slog.Any("error", err), slog.Int("attempt", i+1))
			os.Exit(1)
		}

		fmt.Printf("attempt %d: %d (%s) in %s, %d header fields, %d body bytes\n",
			i+1, resp.Status, *url, time.Since(start), len(resp.Headers.HeaderFields()), len(resp.Body))
	}
}
