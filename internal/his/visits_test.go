package his

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"testing"
)

func consultationRow(scheduleID, serviceID int, date, dept string) []string {
	return []string{
		date,
		dept,
		`<a href="#" data-schedule-id="` + strconv.Itoa(scheduleID) + `" data-service-id="` + strconv.Itoa(serviceID) + `">view</a>`,
	}
}

func admissionRow(admitID int, admitDate, dischargeDate string) []string {
	return []string{
		`<span data-admit-id="` + strconv.Itoa(admitID) + `">ADM-` + strconv.Itoa(admitID) + `</span>`,
		admitDate,
		dischargeDate,
	}
}

func serveListing(t *testing.T, w http.ResponseWriter, total, page, pageSize int, rows [][]string) {
	t.Helper()
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(rows) {
		start = len(rows)
	}
	if end > len(rows) {
		end = len(rows)
	}
	resp := listingPage{Total: total, Page: page, Rows: rows[start:end]}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("Failed to encode listing page: %v", err)
	}
}

func TestListConsultationsFollowsPagination(t *testing.T) {
	all := [][]string{
		consultationRow(8841, 12, "2023-04-01", "Medicine"),
		consultationRow(8850, 12, "2023-05-11", "Medicine"),
		consultationRow(9102, 31, "2023-06-02", "Surgery"),
		consultationRow(9230, 31, "2023-07-19", "Surgery"),
		consultationRow(9555, 12, "2023-09-01", "Medicine"),
	}

	portal := newTestPortal()
	defer portal.close()

	var requests int
	portal.handle("/portal/patients/501/consultations", func(w http.ResponseWriter, r *http.Request) {
		requests++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("rows"))
		serveListing(t, w, len(all), page, pageSize, all)
	})

	client := portal.client()
	client.pageSize = 2
	defer client.Close()

	consultations, err := client.ListConsultations(context.Background(), 501)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(consultations) != 5 {
		t.Fatalf("Expected 5 consultations, got %d", len(consultations))
	}
	if requests != 3 {
		t.Errorf("Expected 3 page requests for 5 rows at page size 2, got %d", requests)
	}
	if consultations[0].ScheduleID != 8841 || consultations[0].ServiceID != 12 {
		t.Errorf("First consultation parsed wrong: %+v", consultations[0])
	}
}

func TestListConsultationsSkipsMalformedRows(t *testing.T) {
	rows := [][]string{
		consultationRow(8841, 12, "2023-04-01", "Medicine"),
		{"2023-05-11", "Medicine", "<a href=\"#\">no ids here</a>"},
		{"2023-06-02"}, // short row
		consultationRow(9102, 31, "2023-06-02", "Surgery"),
	}

	portal := newTestPortal()
	defer portal.close()
	portal.handle("/portal/patients/501/consultations", func(w http.ResponseWriter, r *http.Request) {
		serveListing(t, w, len(rows), 1, 500, rows)
	})

	client := portal.client()
	defer client.Close()

	consultations, err := client.ListConsultations(context.Background(), 501)
	if err != nil {
		t.Fatalf("One bad row must not abort the listing: %v", err)
	}
	if len(consultations) != 2 {
		t.Fatalf("Expected 2 parseable consultations, got %d", len(consultations))
	}
}

func TestListAdmissions(t *testing.T) {
	rows := [][]string{
		admissionRow(4410, "2023-04-01", "2023-04-09"),
		admissionRow(4590, "2023-08-20", ""), // still admitted
	}

	portal := newTestPortal()
	defer portal.close()
	portal.handle("/portal/patients/733/admissions", func(w http.ResponseWriter, r *http.Request) {
		serveListing(t, w, len(rows), 1, 500, rows)
	})

	client := portal.client()
	defer client.Close()

	admissions, err := client.ListAdmissions(context.Background(), 733)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(admissions) != 2 {
		t.Fatalf("Expected 2 admissions, got %d", len(admissions))
	}
	if admissions[0].AdmitID != 4410 || admissions[0].DischargeDate != "2023-04-09" {
		t.Errorf("Admission 0 parsed wrong: %+v", admissions[0])
	}
	if admissions[1].DischargeDate != "" {
		t.Errorf("Expected open discharge date, got %q", admissions[1].DischargeDate)
	}
}

// Listing is read-only on the portal side, so two calls with no intervening
// remote change must yield the same set.
func TestListConsultationsIdempotent(t *testing.T) {
	all := [][]string{
		consultationRow(8841, 12, "2023-04-01", "Medicine"),
		consultationRow(9102, 31, "2023-06-02", "Surgery"),
	}

	portal := newTestPortal()
	defer portal.close()
	portal.handle("/portal/patients/501/consultations", func(w http.ResponseWriter, r *http.Request) {
		serveListing(t, w, len(all), 1, 500, all)
	})

	client := portal.client()
	defer client.Close()

	first, err := client.ListConsultations(context.Background(), 501)
	if err != nil {
		t.Fatalf("First listing failed: %v", err)
	}
	second, err := client.ListConsultations(context.Background(), 501)
	if err != nil {
		t.Fatalf("Second listing failed: %v", err)
	}

	sort.Slice(first, func(i, j int) bool { return first[i].ScheduleID < first[j].ScheduleID })
	sort.Slice(second, func(i, j int) bool { return second[i].ScheduleID < second[j].ScheduleID })

	if len(first) != len(second) {
		t.Fatalf("Listing not idempotent: %d vs %d rows", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Row %d differs between listings: %+v vs %+v", i, first[i], second[i])
		}
	}
}
