package model

type FiveWhys struct {
	Why1 string `json:"why_1"`
	Why2 string `json:"why_2"`
	Why3 string `json:"why_3"`
	Why4 string `json:"why_4"`
	Why5 string `json:"why_5"`
}

type Fishbone struct {
	Man         string `json:"man"`
	Machine     string `json:"machine"`
	Material    string `json:"material"`
	Method      string `json:"method"`
	Measurement string `json:"measurement"`
	Environment string `json:"environment"`
}

type EightD struct {
	D1Team           string `json:"d1_team"`
	D2Problem        string `json:"d2_problem"`
	D3Interim        string `json:"d3_interim"`
	D4RootCause      string `json:"d4_root_cause"`
	D5Corrective     string `json:"d5_corrective"`
	D6Implementation string `json:"d6_implementation"`
	D7Prevention     string `json:"d7_prevention"`
	D8Recognition    string `json:"d8_recognition"`
}

type ReportContent struct {
	FiveWhys FiveWhys `json:"five_whys"`
	Fishbone Fishbone `json:"fishbone"`
	EightD   EightD   `json:"8d_report"`
}

type Report struct {
	ReportID    string `json:"report_id"`
	CreatedAt   string `json:"created_at"`
	ImageID     string `json:"image_id"`
	FailureMode string `json:"failure_mode"`
	Confidence  string `json:"confidence"`
	IsSeed      bool   `json:"is_seed"`
	ReportContent
	Ctime int64 `json:"-"`
}

type ReportFilter struct {
	FailureMode string
	Seed        *bool
	Limit       uint
	Offset      uint
}
