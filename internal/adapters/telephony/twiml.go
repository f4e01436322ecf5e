package telephony

import (
	"bytes"
	"encoding/xml"
	"sort"
)

// TwiML rendering for bridging a call onto a media WebSocket. Built with
// encoding/xml structs; no SDK covers the Connect/Stream parameter shape.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlStream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []twimlParameter
}

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

// RenderStreamTwiML returns the TwiML that bridges a call to the media
// WebSocket at wsURL, passing params as custom stream parameters.
func RenderStreamTwiML(wsURL string, params map[string]string) (string, error) {
	stream := twimlStream{URL: wsURL}
	for _, key := range sortedKeys(params) {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: key, Value: params[key]})
	}

	r := twimlResponse{Connect: twimlConnect{Stream: stream}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
