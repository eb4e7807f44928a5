// Package maplink builds links that open a location in an external map view.
package maplink

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/shiva/fastcare/internal/model"
)

const baseURL = "https://www.google.com/maps"

// ForPosition returns a map link centred on the given coordinates.
func ForPosition(loc model.Location) string {
	q := strconv.FormatFloat(loc.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(loc.Lng, 'f', -1, 64)
	return baseURL + "?q=" + q
}

// ForAddress returns a map search link for a free-text address, or "" for a
// blank address.
func ForAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	return baseURL + "/search/?api=1&query=" + url.QueryEscape(address)
}

// ForVehicle links to the vehicle's last reported position, or "" if it has
// not reported one yet.
func ForVehicle(v *model.Vehicle) string {
	if v == nil || v.CurrentPosition == nil {
		return ""
	}
	return ForPosition(*v.CurrentPosition)
}
