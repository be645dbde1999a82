package main

import (
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	auboArm "aubo_arm"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: auboArm.AuboModel},
		resource.APIModel{API: sensor.API, Model: auboArm.AuboStateSensorModel},
	)
}
