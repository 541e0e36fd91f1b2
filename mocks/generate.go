package mocks

//go:generate mockgen -destination=./gateway_mock.go -package=mocks github.com/meridian-lab/meridian-trading/internal/broker Gateway
