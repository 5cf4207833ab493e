package metrics

import (
	"context"
	"fmt"
	"net/http"

	onebusaway "github.com/OneBusAway/go-sdk"
	"github.com/OneBusAway/go-sdk/option"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

// ObaServer is a OneBusAway REST server serving the same agency as the feed.
// It is optional; when configured the feed snapshot is cross-checked against it.
type ObaServer struct {
	BaseURL  string
	APIKey   string
	AgencyID string
}

func newObaClient(server ObaServer, httpClient *http.Client) *onebusaway.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(server.APIKey),
		option.WithBaseURL(server.BaseURL),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return onebusaway.NewClient(opts...)
}

// serverPing calls current-time on the OBA server and records whether it answered.
func serverPing(ctx context.Context, server ObaServer, httpClient *http.Client) error {
	client := newObaClient(server, httpClient)

	response, err := client.CurrentTime.Get(ctx)
	if err != nil {
		err = fmt.Errorf("failed to ping OBA server %s: %w", server.BaseURL, err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: utils.MakeMap("oba_base_url", server.BaseURL),
		})
		ObaApiStatus.WithLabelValues(server.BaseURL).Set(0)
		return err
	}

	if response.Data.Entry.ReadableTime != "" {
		ObaApiStatus.WithLabelValues(server.BaseURL).Set(1)
	} else {
		ObaApiStatus.WithLabelValues(server.BaseURL).Set(0)
	}
	return nil
}

// vehiclesForAgencyAPI returns the number of vehicles the OBA server reports
// for the agency and exports it as VehicleCountAPI.
func vehiclesForAgencyAPI(ctx context.Context, server ObaServer, httpClient *http.Client) (int, error) {
	client := newObaClient(server, httpClient)

	response, err := client.VehiclesForAgency.List(ctx, server.AgencyID, onebusaway.VehiclesForAgencyListParams{})
	if err != nil {
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: map[string]string{
				"oba_base_url": server.BaseURL,
				"agency_id":    server.AgencyID,
			},
		})
		return 0, err
	}
	if response == nil {
		return 0, nil
	}

	count := len(response.Data.List)
	VehicleCountAPI.WithLabelValues(server.AgencyID).Set(float64(count))
	return count, nil
}

// checkVehicleCountMatch compares the size of the feed snapshot with the OBA
// vehicles-for-agency count and sets VehicleCountMatch accordingly.
func checkVehicleCountMatch(ctx context.Context, server ObaServer, httpClient *http.Client, feedVehicleCount int) (bool, error) {
	apiVehicleCount, err := vehiclesForAgencyAPI(ctx, server, httpClient)
	if err != nil {
		err = fmt.Errorf("failed to count vehicles from API: %w", err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags: utils.MakeMap("agency_id", server.AgencyID),
		})
		return false, err
	}

	match := 0
	if apiVehicleCount == feedVehicleCount {
		match = 1
	}
	VehicleCountMatch.WithLabelValues(server.AgencyID).Set(float64(match))

	return match == 1, nil
}
