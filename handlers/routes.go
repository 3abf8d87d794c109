package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytcampaigns/internal/httputil"
)

func Router() *mux.Router {
	m := mux.NewRouter()

	m.Methods(http.MethodGet).Path("/health").HandlerFunc(Health)

	m.Methods(http.MethodGet).Path("/creators").HandlerFunc(Creators)
	m.Methods(http.MethodPost).Path("/creators").HandlerFunc(CreateCreator)
	m.Methods(http.MethodGet).Path("/creators/{id}").HandlerFunc(Creator)
	m.Methods(http.MethodPut).Path("/creators/{id}").HandlerFunc(UpdateCreator)
	m.Methods(http.MethodDelete).Path("/creators/{id}").HandlerFunc(DeleteCreator)

	m.Methods(http.MethodGet).Path("/campaigns").HandlerFunc(Campaigns)
	m.Methods(http.MethodPost).Path("/campaigns").HandlerFunc(CreateCampaign)
	m.Methods(http.MethodGet).Path("/campaigns/{id}").HandlerFunc(Campaign)
	m.Methods(http.MethodPut).Path("/campaigns/{id}").HandlerFunc(UpdateCampaign)
	m.Methods(http.MethodDelete).Path("/campaigns/{id}").HandlerFunc(DeleteCampaign)

	m.Methods(http.MethodGet).Path("/settings/schedule").HandlerFunc(Schedule)
	m.Methods(http.MethodPost).Path("/settings/schedule").HandlerFunc(UpdateSchedule)
	m.Methods(http.MethodPost).Path("/settings/trigger-collection").HandlerFunc(TriggerCollection)

	m.Methods(http.MethodGet).Path("/jobs").HandlerFunc(Jobs)
	m.Methods(http.MethodGet).Path("/jobs/{id}").HandlerFunc(Job)
	m.Methods(http.MethodPost).Path("/events").HandlerFunc(SendEvent)
	m.Methods(http.MethodGet).Path("/hello").HandlerFunc(Hello)

	m.NotFoundHandler = http.HandlerFunc(httputil.NotFound)
	m.MethodNotAllowedHandler = http.HandlerFunc(httputil.MethodNotAllowed)

	return m
}
