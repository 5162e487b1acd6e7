package app

import (
	"fmt"
	"net/http"

	"github.com/beevik/etree"
)

// HDHomeRun tuner emulation. DVR software discovers the server as a network
// tuner and reads the channel lineup from it; each lineup entry points at the
// channel's HLS playlist.

const (
	hdhrFriendlyName    = "PrismCast"
	hdhrManufacturer    = "Silicondust"
	hdhrModelNumber     = "HDTC-2US"
	hdhrFirmwareName    = "hdhomeruntc_atsc"
	hdhrFirmwareVersion = "20150826"
	hdhrDeviceID        = "PRISMC01"
	hdhrDeviceAuth      = "prismcast"
	hdhrTunerCount      = 4
)

type discoverInfo struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	TunerCount      int    `json:"TunerCount"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
}

type lineupItem struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

type lineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// baseURL derives the externally visible server URL from the request.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func (s *Server) discoverHandlerFunc(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	s.jsonResponse(w, discoverInfo{
		FriendlyName:    hdhrFriendlyName,
		Manufacturer:    hdhrManufacturer,
		ModelNumber:     hdhrModelNumber,
		FirmwareName:    hdhrFirmwareName,
		FirmwareVersion: hdhrFirmwareVersion,
		TunerCount:      hdhrTunerCount,
		DeviceID:        hdhrDeviceID,
		DeviceAuth:      hdhrDeviceAuth,
		BaseURL:         base,
		LineupURL:       base + "/lineup.json",
	}, http.StatusOK)
}

func (s *Server) lineupHandlerFunc(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	lineup := make([]lineupItem, 0, len(s.channels.Channels))
	for _, ch := range s.channels.Channels {
		lineup = append(lineup, lineupItem{
			GuideNumber: ch.Number,
			GuideName:   ch.Name,
			URL:         fmt.Sprintf("%s/stream/%s/playlist.m3u8", base, ch.ID),
		})
	}
	s.jsonResponse(w, lineup, http.StatusOK)
}

func (s *Server) lineupStatusHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, lineupStatus{
		ScanInProgress: 0,
		ScanPossible:   1,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
	}, http.StatusOK)
}

// lineupPostHandlerFunc accepts scan requests without doing anything.
// The lineup is static, but DVRs expect the endpoint to exist.
func (s *Server) lineupPostHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deviceXMLHandlerFunc(w http.ResponseWriter, r *http.Request) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("root")
	root.CreateAttr("xmlns", "urn:schemas-upnp-org:device-1-0")
	spec := root.CreateElement("specVersion")
	spec.CreateElement("major").SetText("1")
	spec.CreateElement("minor").SetText("0")
	root.CreateElement("URLBase").SetText(baseURL(r))
	dev := root.CreateElement("device")
	dev.CreateElement("deviceType").SetText("urn:schemas-upnp-org:device:MediaServer:1")
	dev.CreateElement("friendlyName").SetText(hdhrFriendlyName)
	dev.CreateElement("manufacturer").SetText(hdhrManufacturer)
	dev.CreateElement("modelName").SetText(hdhrModelNumber)
	dev.CreateElement("modelNumber").SetText(hdhrModelNumber)
	dev.CreateElement("serialNumber").SetText(hdhrDeviceID)
	dev.CreateElement("UDN").SetText("uuid:" + hdhrDeviceID)
	doc.Indent(2)

	w.Header().Set("Content-Type", "application/xml")
	if _, err := doc.WriteTo(w); err != nil {
		s.log.Error("could not write device.xml response", "err", err)
	}
}
