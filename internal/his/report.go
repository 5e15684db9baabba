package his

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Report retrieval is a two-step exchange: post the visit identifiers to get
// an opaque single-use token, then redeem the token for the binary artifact.
// The bundling rules are the portal's own contract and are preserved exactly:
// every outpatient consultation goes into one token request (one OPD report
// per patient), while each admission gets its own request (one IPD report per
// admission).

type tokenRequest struct {
	PatientID   int   `json:"patientId"`
	ScheduleIDs []int `json:"scheduleIds,omitempty"`
	ServiceIDs  []int `json:"serviceIds,omitempty"`
	AdmitID     int   `json:"admitId,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// RequestConsultationReport asks for a report token covering all of the
// patient's outpatient consultations.
func (c *Client) RequestConsultationReport(ctx context.Context, patientID int, consultations []Consultation) (ReportToken, error) {
	req := tokenRequest{PatientID: patientID}
	for _, v := range consultations {
		req.ScheduleIDs = append(req.ScheduleIDs, v.ScheduleID)
		req.ServiceIDs = append(req.ServiceIDs, v.ServiceID)
	}
	return c.requestToken(ctx, "opd_token", req)
}

// RequestAdmissionReport asks for a report token covering one admission.
func (c *Client) RequestAdmissionReport(ctx context.Context, patientID int, admission Admission) (ReportToken, error) {
	return c.requestToken(ctx, "ipd_token", tokenRequest{
		PatientID: patientID,
		AdmitID:   admission.AdmitID,
	})
}

func (c *Client) requestToken(ctx context.Context, op string, req tokenRequest) (ReportToken, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s: failed to encode token request: %w", op, err)
	}

	body, err := c.postJSON(ctx, op, "/portal/reports/token", payload)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%s: failed to decode token response: %w", op, err)
	}

	token := strings.TrimSpace(resp.Token)
	if token == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyToken)
	}
	return ReportToken(token), nil
}

// RedeemToken exchanges a report token for the raw artifact bytes. Structural
// validation of the artifact is the caller's concern; this only moves bytes.
func (c *Client) RedeemToken(ctx context.Context, token ReportToken) ([]byte, error) {
	if strings.TrimSpace(string(token)) == "" {
		return nil, ErrEmptyToken
	}
	return c.get(ctx, "report_download", "/portal/reports/download", url.Values{
		"token": {string(token)},
	})
}
