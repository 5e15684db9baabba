package his

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Listing endpoints return positional-field rows: a fixed-position array
// where some positions are plain values and others are markup carrying
// secondary identifiers. The response also carries the total row count;
// completeness is verified against it and further pages are fetched until
// the full history is collected, never assumed from one response.

// listingPage is the wire shape of one listing response.
type listingPage struct {
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Rows  [][]string `json:"rows"`
}

// Consultation row positions.
const (
	consultDateField   = 0
	consultDeptField   = 1
	consultActionField = 2 // markup carrying data-schedule-id / data-service-id
	consultFieldCount  = 3
)

// Admission row positions.
const (
	admitRefField      = 0 // markup carrying data-admit-id
	admitDateField     = 1
	dischargeDateField = 2
	admitFieldCount    = 3
)

var (
	scheduleIDPattern = regexp.MustCompile(`\bdata-schedule-id="(\d+)"`)
	serviceIDPattern  = regexp.MustCompile(`\bdata-service-id="(\d+)"`)
	admitIDPattern    = regexp.MustCompile(`\bdata-admit-id="(\d+)"`)
)

// listAll walks a listing endpoint page by page until the reported total is
// collected (or a page comes back empty, which guards against a lying total).
func (c *Client) listAll(ctx context.Context, op, path string) ([][]string, error) {
	var rows [][]string
	for page := 1; ; page++ {
		body, err := c.get(ctx, op, path, url.Values{
			"page": {strconv.Itoa(page)},
			"rows": {strconv.Itoa(c.pageSize)},
		})
		if err != nil {
			return nil, err
		}

		var pg listingPage
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, fmt.Errorf("%s: failed to decode listing page %d: %w", op, page, err)
		}

		rows = append(rows, pg.Rows...)
		if len(rows) >= pg.Total || len(pg.Rows) == 0 {
			return rows, nil
		}
	}
}

// ListConsultations returns the patient's complete outpatient consultation
// history. Rows with missing or malformed identifier markup are skipped with
// a warning; one bad row must not abort the whole listing.
func (c *Client) ListConsultations(ctx context.Context, patientID int) ([]Consultation, error) {
	path := fmt.Sprintf("/portal/patients/%d/consultations", patientID)
	rows, err := c.listAll(ctx, "consultation_list", path)
	if err != nil {
		return nil, err
	}

	consultations := make([]Consultation, 0, len(rows))
	for i, row := range rows {
		if len(row) < consultFieldCount {
			log.Warn().
				Int("patient_id", patientID).
				Int("row", i).
				Int("fields", len(row)).
				Msg("Skipping short consultation row")
			continue
		}
		scheduleID, ok := extractID(scheduleIDPattern, row[consultActionField])
		if !ok {
			log.Warn().
				Int("patient_id", patientID).
				Int("row", i).
				Msg("Skipping consultation row without schedule id markup")
			continue
		}
		serviceID, ok := extractID(serviceIDPattern, row[consultActionField])
		if !ok {
			log.Warn().
				Int("patient_id", patientID).
				Int("row", i).
				Msg("Skipping consultation row without service id markup")
			continue
		}
		consultations = append(consultations, Consultation{
			ScheduleID: scheduleID,
			ServiceID:  serviceID,
			Date:       row[consultDateField],
			Department: row[consultDeptField],
		})
	}
	return consultations, nil
}

// ListAdmissions returns the patient's complete inpatient admission history.
func (c *Client) ListAdmissions(ctx context.Context, patientID int) ([]Admission, error) {
	path := fmt.Sprintf("/portal/patients/%d/admissions", patientID)
	rows, err := c.listAll(ctx, "admission_list", path)
	if err != nil {
		return nil, err
	}

	admissions := make([]Admission, 0, len(rows))
	for i, row := range rows {
		if len(row) < admitFieldCount {
			log.Warn().
				Int("patient_id", patientID).
				Int("row", i).
				Int("fields", len(row)).
				Msg("Skipping short admission row")
			continue
		}
		admitID, ok := extractID(admitIDPattern, row[admitRefField])
		if !ok {
			log.Warn().
				Int("patient_id", patientID).
				Int("row", i).
				Msg("Skipping admission row without admit id markup")
			continue
		}
		admissions = append(admissions, Admission{
			AdmitID:       admitID,
			AdmissionDate: row[admitDateField],
			DischargeDate: row[dischargeDateField],
		})
	}
	return admissions, nil
}

func extractID(pattern *regexp.Regexp, field string) (int, bool) {
	m := pattern.FindStringSubmatch(field)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}
