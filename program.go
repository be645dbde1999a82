package aubo_arm

import "fmt"

// resetProgram keeps the controller's onboard interpreter idle without
// commanding any motion. Sending it puts the link back into the
// ready-to-program state.
const resetProgram = `def resetProg():
  sleep(0.0)
end
`

// controlProgramTemplate is the program uploaded to the controller once it
// reports ready. It opens the reverse channel back to the driver and enters
// the servo intake loop.
const controlProgramTemplate = `def driverProg():
  HOSTNAME = "%s"
  REVERSE_PORT = %d
  socket_open(HOSTNAME, REVERSE_PORT)
  while True:
    servo_intake()
  end
end
`

// controlProgram renders the controller program for the given driver
// endpoint.
func controlProgram(driverHost string, reversePort int) string {
	return fmt.Sprintf(controlProgramTemplate, driverHost, reversePort)
}
