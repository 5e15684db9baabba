package his

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestRequestConsultationReportBundlesAllVisits(t *testing.T) {
	portal := newTestPortal()
	defer portal.close()

	var got tokenRequest
	portal.handle("/portal/reports/token", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode token request: %v", err)
		}
		json.NewEncoder(w).Encode(tokenResponse{Token: "tok-opd-1"})
	})

	client := portal.client()
	defer client.Close()

	consultations := []Consultation{
		{ScheduleID: 8841, ServiceID: 12},
		{ScheduleID: 9102, ServiceID: 31},
	}
	token, err := client.RequestConsultationReport(context.Background(), 501, consultations)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "tok-opd-1" {
		t.Errorf("Expected token tok-opd-1, got %s", token)
	}
	if got.PatientID != 501 {
		t.Errorf("Expected patient id 501, got %d", got.PatientID)
	}
	if len(got.ScheduleIDs) != 2 || got.ScheduleIDs[0] != 8841 || got.ScheduleIDs[1] != 9102 {
		t.Errorf("All consultations must go into one request, got schedule ids %v", got.ScheduleIDs)
	}
	if len(got.ServiceIDs) != 2 {
		t.Errorf("Expected 2 service ids, got %v", got.ServiceIDs)
	}
}

func TestRequestAdmissionReportIsPerAdmission(t *testing.T) {
	portal := newTestPortal()
	defer portal.close()

	var got tokenRequest
	portal.handle("/portal/reports/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(tokenResponse{Token: "tok-ipd-1"})
	})

	client := portal.client()
	defer client.Close()

	_, err := client.RequestAdmissionReport(context.Background(), 733, Admission{AdmitID: 4410})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.AdmitID != 4410 || got.PatientID != 733 {
		t.Errorf("Expected admit 4410 for patient 733, got %+v", got)
	}
	if len(got.ScheduleIDs) != 0 {
		t.Errorf("Admission request must not carry schedule ids, got %v", got.ScheduleIDs)
	}
}

func TestEmptyTokenIsNeverRedeemed(t *testing.T) {
	portal := newTestPortal()
	defer portal.close()

	var downloads int
	portal.handle("/portal/reports/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{Token: "   "})
	})
	portal.handle("/portal/reports/download", func(w http.ResponseWriter, r *http.Request) {
		downloads++
	})

	client := portal.client()
	defer client.Close()

	_, err := client.RequestConsultationReport(context.Background(), 501, []Consultation{{ScheduleID: 1, ServiceID: 1}})
	if !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("Expected ErrEmptyToken, got %v", err)
	}
	if downloads != 0 {
		t.Errorf("Redemption must not be attempted for a blank token")
	}
}

func TestRedeemTokenReturnsBody(t *testing.T) {
	pdf := []byte("%PDF-1.4\n<< /Type /Pages /Count 3 >>\n%%EOF")

	portal := newTestPortal()
	defer portal.close()
	portal.handle("/portal/reports/download", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(pdf)
	})

	client := portal.client()
	defer client.Close()

	data, err := client.RedeemToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.Equal(data, pdf) {
		t.Errorf("Body mismatch: got %q", data)
	}
}
