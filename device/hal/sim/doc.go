// Package sim provides an in-memory endpoint driver and a scripted host.
//
// [HAL] implements [hal.DeviceHAL] without hardware: every operation a class
// driver issues is recorded as an [Event], OUT endpoints hold the buffer they
// were armed with, and IN endpoints hold the last packet submitted. [Host]
// drives a device through the HAL the way a controller interrupt would, by
// moving a packet and then calling the matching completion callback.
//
//	dcd := sim.New()
//	comp := device.NewComposite(dcd, device.SpeedFull)
//	port, _ := cdc.Attach(comp, cfg)
//	comp.SetConfiguration(1)
//
//	host := sim.NewHost(dcd, comp)
//	host.Send(0x02, []byte("hello"))
//	host.Frame()
//	pkt, ok, _ := host.Receive(0x81)
package sim
