package caldav

import "encoding/xml"

// multistatus mirrors a CalDAV/WebDAV multistatus response body (RFC
// 4791 §4.2), trimmed to the properties this adapter asks for.
type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href     string     `xml:"href"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Prop   prop   `xml:"prop"`
	Status string `xml:"status"`
}

type prop struct {
	Resourcetype    resourcetype `xml:"resourcetype"`
	DisplayName     string       `xml:"displayname"`
	CalendarData    string       `xml:"calendar-data"`
	GetEtag         string       `xml:"getetag"`
	CalendarHomeSet *href        `xml:"calendar-home-set"`
	CurrentPrincip  *href        `xml:"current-user-principal"`
}

type resourcetype struct {
	Calendar *struct{} `xml:"calendar"`
}

type href struct {
	Href string `xml:"href"`
}

// principalPropfindBody requests the current user's principal URL.
const principalPropfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop><D:current-user-principal/></D:prop>
</D:propfind>`

// calendarHomeSetPropfindBody requests the calendar-home-set for a
// known principal URL.
const calendarHomeSetPropfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><C:calendar-home-set/></D:prop>
</D:propfind>`

// calendarListPropfindBody enumerates the calendar collections under a
// calendar-home-set.
const calendarListPropfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:displayname/>
  </D:prop>
</D:propfind>`

// calendarQueryReportBody builds a time-range REPORT query for VEVENTs
// within [start, end), matching the original's calendar-query filter.
func calendarQueryReportBody(start, end string) string {
	return `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="` + start + `" end="` + end + `"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`
}
