package gtfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	remoteGtfs "github.com/jamespfennell/gtfs"
	"livemap.onebusaway.org/internal/config"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// readBundle returns the raw bytes of a GTFS static zip, from disk or over HTTP.
func readBundle(ctx context.Context, client *http.Client, source string, maxRetries int) ([]byte, error) {
	if !isRemote(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read GTFS bundle %s: %w", source, err)
		}
		return data, nil
	}
	return downloadGTFSBundle(ctx, client, source, maxRetries)
}

// downloadGTFSBundle fetches a GTFS static bundle, retrying transient failures.
//
// Returns:
//   - the zip bytes of the bundle
//   - error: Describes what went wrong, or nil if the operation was successful.
func downloadGTFSBundle(ctx context.Context, client *http.Client, url string, maxRetries int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err = fmt.Errorf("failed to create request for %s: %w", url, err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: utils.MakeMap("gtfs_url", url),
		})
		return nil, err
	}

	resp, err := config.DoWithBackoff(ctx, client, req, maxRetries)
	if err != nil {
		err = fmt.Errorf("failed to make GET request to %s: %w", url, err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: utils.MakeMap("gtfs_url", url),
		})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("unexpected response status %d when downloading GTFS bundle from %s", resp.StatusCode, url)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: utils.MakeMap("gtfs_url", url),
			ExtraContext: map[string]interface{}{
				"status": resp.Status,
			},
		})
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read GTFS bundle response body from %s: %w", url, err)
		report.ReportError(err)
		return nil, err
	}
	return data, nil
}

func parseBundle(data []byte, source string) (*remoteGtfs.Static, error) {
	static, err := remoteGtfs.ParseStatic(data, remoteGtfs.ParseStaticOptions{})
	if err != nil {
		err = fmt.Errorf("failed to parse GTFS static data from %s: %w", source, err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: utils.MakeMap("gtfs_url", source),
		})
		return nil, err
	}
	return static, nil
}
