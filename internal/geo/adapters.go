package geo

import (
	"encoding/json"
	"errors"
	"fmt"

	"gatekeeper/internal/resolver"
)

var errMissingCountry = errors.New("missing country")

// Adapters maps adapter names used in provider configuration to response-shape
// adapters. Each adapter rejects error payloads and documents without a country.
var Adapters = map[string]resolver.Adapter[Location]{
	"ipapi.co":   adaptIPAPICo,
	"ipwho.is":   adaptIPWhoIs,
	"freeipapi":  adaptFreeIPAPI,
	"ip-api.com": adaptIPAPICom,
}

type ipapiCoResponse struct {
	IP          string  `json:"ip"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Timezone    string  `json:"timezone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func adaptIPAPICo(body []byte) (Location, error) {
	var r ipapiCoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Location{}, err
	}
	if r.Error {
		return Location{}, fmt.Errorf("provider error: %s", r.Reason)
	}
	if r.CountryName == "" {
		return Location{}, errMissingCountry
	}
	return Location{
		IP:          r.IP,
		Country:     r.CountryName,
		CountryCode: r.CountryCode,
		Region:      r.Region,
		City:        r.City,
		Timezone:    r.Timezone,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}, nil
}

type ipwhoIsResponse struct {
	IP          string  `json:"ip"`
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    struct {
		ID string `json:"id"`
	} `json:"timezone"`
}

func adaptIPWhoIs(body []byte) (Location, error) {
	var r ipwhoIsResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Location{}, err
	}
	if !r.Success {
		return Location{}, fmt.Errorf("provider error: %s", r.Message)
	}
	if r.Country == "" {
		return Location{}, errMissingCountry
	}
	return Location{
		IP:          r.IP,
		Country:     r.Country,
		CountryCode: r.CountryCode,
		Region:      r.Region,
		City:        r.City,
		Timezone:    r.Timezone.ID,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}, nil
}

type freeIPAPIResponse struct {
	IPAddress   string  `json:"ipAddress"`
	CountryName string  `json:"countryName"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	CityName    string  `json:"cityName"`
	TimeZone    string  `json:"timeZone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func adaptFreeIPAPI(body []byte) (Location, error) {
	var r freeIPAPIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Location{}, err
	}
	if r.CountryName == "" || r.CountryName == "-" {
		return Location{}, errMissingCountry
	}
	return Location{
		IP:          r.IPAddress,
		Country:     r.CountryName,
		CountryCode: r.CountryCode,
		Region:      r.RegionName,
		City:        r.CityName,
		Timezone:    r.TimeZone,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}, nil
}

type ipAPIComResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Query       string  `json:"query"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Timezone    string  `json:"timezone"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func adaptIPAPICom(body []byte) (Location, error) {
	var r ipAPIComResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Location{}, err
	}
	if r.Status != "success" {
		return Location{}, fmt.Errorf("provider error: %s", r.Message)
	}
	if r.Country == "" {
		return Location{}, errMissingCountry
	}
	return Location{
		IP:          r.Query,
		Country:     r.Country,
		CountryCode: r.CountryCode,
		Region:      r.RegionName,
		City:        r.City,
		Timezone:    r.Timezone,
		Latitude:    r.Lat,
		Longitude:   r.Lon,
	}, nil
}
