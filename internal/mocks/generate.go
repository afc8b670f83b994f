// Package mocks holds gomock doubles for the ports that talk to external services.
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=embedder_mock.go ingest-worker-service/internal/embedding Embedder
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=kicker_mock.go ingest-worker-service/internal/trigger Kicker
