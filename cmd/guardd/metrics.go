package main

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("guardd")
