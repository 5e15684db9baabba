package his

// PatientRecord is a patient as resolved through the portal search. The
// internal id is the hospital database key and is authoritative for every
// subsequent call; the folder number is only the human-facing lookup key.
type PatientRecord struct {
	InternalID   int    `json:"internalId"`
	FolderNumber string `json:"folderNumber"`
	DisplayName  string `json:"displayName"`
	Demographics string `json:"demographics"`
}

// Consultation is one outpatient visit row from the consultation listing.
type Consultation struct {
	ScheduleID int    `json:"scheduleId"`
	ServiceID  int    `json:"serviceId"`
	Date       string `json:"date"`
	Department string `json:"department"`
}

// Admission is one inpatient stay from the admission listing. An empty
// DischargeDate means the patient is still admitted.
type Admission struct {
	AdmitID       int    `json:"admitId"`
	AdmissionDate string `json:"admissionDate"`
	DischargeDate string `json:"dischargeDate,omitempty"`
}

// ReportToken is the opaque credential handed out by the report endpoint.
// It is single-use and only valid within the session that requested it, so
// it must never be cached or shared across a session refresh.
type ReportToken string
