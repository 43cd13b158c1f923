package main

//go:generate swag init -g cmd/advisor/main.go -o docs

// @title           Stock Advisor API
// @version         0.1.0
// @description     Strategy workflow runs, predictions and budget.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
