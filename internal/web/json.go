package web

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status codes carried in {"status": code} bodies.
const (
	codeOK               = 0
	codeInvalidConf      = -10
	codeWriteConf        = -11
	codeLogDirFSNotOpen  = -12
	codeCSVFSNotOpen     = -13
	codeNoFileParam      = -14
	codeFileNotFound     = -15
	codeInvalidTime      = -16
	codeInvalidCloudConf = -17
	codeWriteCloudConf   = -18
	codeInvalidCount     = -19
	codeSetTime          = -20
	codeHistory          = -21
)

const learnStatusURL = "/v100/learnWaterFStatus"

// StatusOnly is the body of most write endpoints and of every error.
type StatusOnly struct {
	Status int `json:"status"`
}

// Accepted is the body of the asynchronous job endpoints.
type Accepted struct {
	Status   int    `json:"status"`
	MonitURL string `json:"monitUrl"`
}

// SoilMoisture is the latest reading. TS is Unix seconds.
type SoilMoisture struct {
	Surface float64 `json:"surface"`
	Middle  float64 `json:"middle"`
	Deep    float64 `json:"deep"`
	TS      int64   `json:"ts"`
}

// IrrigData is the irrigation state. Times are Unix seconds, 0 when unset.
type IrrigData struct {
	SurfaceAtStart float64 `json:"surfacestirr"`
	MiddleAtStart  float64 `json:"middlestirr"`
	DeepAtStart    float64 `json:"deepstirr"`
	IsIrrigating   int     `json:"isirrig"`
	IrrigSince     int64   `json:"irrigsince"`
	LastIrrigEnd   int64   `json:"lstirrigend"`
	IrrigTodaySecs int64   `json:"irrigtdaysecs"`
	RemainingSecs  int64   `json:"remainingsecs"`
}

// UTCTime is the broken-down UTC time used by the clock endpoints.
type UTCTime struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
	Hour  int `json:"hour"`
	Min   int `json:"min"`
	Sec   int `json:"sec"`
}

// Valid mirrors the range checks of the device firmware.
func (u UTCTime) Valid() bool {
	return u.Year > 2016 &&
		u.Month >= 1 && u.Month <= 12 &&
		u.Day >= 1 && u.Day <= 31 &&
		u.Hour >= 0 && u.Hour < 24 &&
		u.Min >= 0 && u.Min < 60 &&
		u.Sec >= 0 && u.Sec < 60
}

// Time converts u to a UTC instant.
func (u UTCTime) Time() time.Time {
	return time.Date(u.Year, time.Month(u.Month), u.Day, u.Hour, u.Min, u.Sec, 0, time.UTC)
}

func toUTCTime(t time.Time) UTCTime {
	t = t.UTC()
	return UTCTime{
		Year: t.Year(), Month: int(t.Month()), Day: t.Day(),
		Hour: t.Hour(), Min: t.Minute(), Sec: t.Second(),
	}
}

// CloudConfView is the cloud configuration without the password.
type CloudConfView struct {
	BaseURL  string `json:"baseUrl"`
	CertHash string `json:"certHash"`
	Login    string `json:"login"`
	Enabled  int    `json:"enabled"`
	Loaded   bool   `json:"loaded"`
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, httpCode, status int) {
	writeJSON(w, httpCode, StatusOnly{Status: status})
}
