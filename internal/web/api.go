package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/srmq/IIRR/internal/datalog"
	"github.com/srmq/IIRR/internal/history"
	"github.com/srmq/IIRR/internal/params"
	"github.com/srmq/IIRR/internal/sensor"
)

const (
	maxBodyBytes   = 4096
	defaultHistory = 10
	maxHistory     = 500
)

func (s *Server) handleGetSoilMoisture(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Tracker.Snapshot()
	body := SoilMoisture{
		Surface: sensor.ReadError,
		Middle:  sensor.ReadError,
		Deep:    sensor.ReadError,
	}
	if snap.HaveReading {
		body = SoilMoisture{
			Surface: snap.Reading.Surface,
			Middle:  snap.Reading.Middle,
			Deep:    snap.Reading.Deep,
			TS:      unixOrZero(snap.Reading.Time),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetIrrigData(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Tracker.Snapshot()
	st := snap.Irrigation
	body := IrrigData{
		SurfaceAtStart: st.SurfaceAtStart,
		MiddleAtStart:  st.MiddleAtStart,
		DeepAtStart:    st.DeepAtStart,
		IrrigSince:     unixOrZero(st.IrrigSince),
		LastIrrigEnd:   unixOrZero(st.LastIrrigEnd),
		IrrigTodaySecs: st.IrrigTodaySecs,
		RemainingSecs:  snap.RemainingSecs,
	}
	if st.IsIrrigating {
		body.IsIrrigating = 1
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetIrrigHistory(w http.ResponseWriter, r *http.Request) {
	if s.d.History == nil {
		writeStatus(w, http.StatusServiceUnavailable, codeHistory)
		return
	}
	n := defaultHistory
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxHistory {
			writeStatus(w, http.StatusBadRequest, codeInvalidCount)
			return
		}
		n = parsed
	}
	runs, err := s.d.History.Recent(r.Context(), n)
	if err != nil {
		s.log.Errorw("web: history read failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, codeHistory)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetMainConfParams(w http.ResponseWriter, r *http.Request) {
	c, _ := s.d.Params.Config()
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateMainConfParams(w http.ResponseWriter, r *http.Request) {
	c, err := params.DecodeConfig(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.log.Infow("web: rejected configuration", "error", err)
		writeStatus(w, http.StatusBadRequest, codeInvalidConf)
		return
	}
	if err := s.d.Params.Replace(c); err != nil {
		if errors.Is(err, params.ErrInvalid) {
			s.log.Infow("web: rejected configuration", "error", err)
			writeStatus(w, http.StatusBadRequest, codeInvalidConf)
			return
		}
		s.log.Errorw("web: configuration not saved", "error", err)
		writeStatus(w, http.StatusInternalServerError, codeWriteConf)
		return
	}
	s.log.Infow("web: configuration updated")
	writeStatus(w, http.StatusOK, codeOK)
}

func (s *Server) handleGetCloudConf(w http.ResponseWriter, r *http.Request) {
	c, ok := s.d.Params.Cloud()
	view := CloudConfView{BaseURL: c.BaseURL, CertHash: c.CertHash, Login: c.Login, Loaded: ok}
	if c.Enabled {
		view.Enabled = 1
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateCloudConf(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	var c params.CloudConf
	if err == nil {
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		s.log.Infow("web: rejected cloud configuration", "error", err)
		writeStatus(w, http.StatusBadRequest, codeInvalidCloudConf)
		return
	}
	if err := s.d.Params.ReplaceCloud(c); err != nil {
		if errors.Is(err, params.ErrInvalid) {
			s.log.Infow("web: rejected cloud configuration", "error", err)
			writeStatus(w, http.StatusBadRequest, codeInvalidCloudConf)
			return
		}
		s.log.Errorw("web: cloud configuration not saved", "error", err)
		writeStatus(w, http.StatusInternalServerError, codeWriteCloudConf)
		return
	}
	s.log.Infow("web: cloud configuration updated", "base_url", c.BaseURL, "enabled", c.Enabled)
	writeStatus(w, http.StatusOK, codeOK)
}

func (s *Server) handleLearnWaterFlow(w http.ResponseWriter, r *http.Request) {
	if s.d.Learn.Request() {
		s.log.Infow("web: flow calibration queued")
	}
	writeJSON(w, http.StatusAccepted, Accepted{Status: codeOK, MonitURL: learnStatusURL})
}

func (s *Server) handleLearnWaterFStatus(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, int(s.d.Learn.Status()))
}

func (s *Server) handleResetWaterFStatus(w http.ResponseWriter, r *http.Request) {
	s.d.Learn.Reset()
	writeJSON(w, http.StatusAccepted, Accepted{Status: codeOK, MonitURL: learnStatusURL})
}

func (s *Server) handleResetEmpty(w http.ResponseWriter, r *http.Request) {
	s.d.Water.ResetEmpty()
	s.log.Infow("web: empty latch reset")
	writeStatus(w, http.StatusOK, codeOK)
}

func (s *Server) handleGetMyUTCTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUTCTime(s.d.Clock.Now()))
}

func (s *Server) handleUpdateMyUTCTime(w http.ResponseWriter, r *http.Request) {
	var u UTCTime
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&u); err != nil || !u.Valid() {
		writeStatus(w, http.StatusBadRequest, codeInvalidTime)
		return
	}
	old := s.d.Clock.Now()
	if err := s.d.Clock.Set(u.Time()); err != nil {
		s.log.Errorw("web: clock not set", "error", err)
		writeStatus(w, http.StatusInternalServerError, codeSetTime)
		return
	}
	s.log.Infow("web: clock set", "old", old, "new", u.Time())
	writeStatus(w, http.StatusOK, codeOK)
}

func (s *Server) handleGetLogDirContents(w http.ResponseWriter, r *http.Request) {
	if !s.d.Logs.Available() {
		writeStatus(w, http.StatusInternalServerError, codeLogDirFSNotOpen)
		return
	}
	names, err := s.d.Logs.List()
	if err != nil {
		s.log.Errorw("web: listing logs failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, codeLogDirFSNotOpen)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	io.WriteString(w, datalog.FormatList(names))
}

func (s *Server) handleGetCSVFile(w http.ResponseWriter, r *http.Request) {
	if !s.d.Logs.Available() {
		writeStatus(w, http.StatusInternalServerError, codeCSVFSNotOpen)
		return
	}
	q := r.URL.Query()
	if !q.Has("f") {
		writeStatus(w, http.StatusBadRequest, codeNoFileParam)
		return
	}
	f, err := s.d.Logs.Open(q.Get("f"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, datalog.ErrInvalidName) {
			s.log.Warnw("web: opening log failed", "file", q.Get("f"), "error", err)
		}
		writeStatus(w, http.StatusNotFound, codeFileNotFound)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeStatus(w, http.StatusNotFound, codeFileNotFound)
		return
	}
	// The file may grow while it is sent; stop at the size seen now.
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	if _, err := io.CopyN(w, f, fi.Size()); err != nil {
		s.log.Debugw("web: log download interrupted", "file", q.Get("f"), "error", err)
	}
}
