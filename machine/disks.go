package machine

import "abc80/diskctl"

// DiskSet lists the backing storage for each ABCbus drive type. A nil
// entry means no drive of that type is attached; selecting its bus
// code then reads 0xFF like any absent device.
type DiskSet struct {
	HD Storage // select code 36
	MF Storage // select code 44
	MO Storage // select code 45
	SF Storage // select code 46
}

// Storage is re-exported so machine configs don't need to import
// diskctl just to attach drives.
type Storage = diskctl.Storage

// registerDisks attaches a controller per populated drive type and
// hooks the ABCbus reset line to all of them. The controllers are
// returned so the machine can fan its trace logger out to them.
func registerDisks(bus *ABCBusController, set DiskSet) []*diskctl.Controller {
	type entry struct {
		code int8
		geom diskctl.Geometry
		st   Storage
	}
	var ctls []*diskctl.Controller
	for _, e := range []entry{
		{36, diskctl.HD, set.HD},
		{44, diskctl.MF, set.MF},
		{45, diskctl.MO, set.MO},
		{46, diskctl.SF, set.SF},
	} {
		if e.st == nil {
			continue
		}
		c := diskctl.New(e.geom, e.st)
		bus.Register(e.code, c)
		ctls = append(ctls, c)
	}
	if len(ctls) > 0 {
		bus.OnReset(func() {
			for _, c := range ctls {
				c.Reset()
			}
		})
	}
	return ctls
}
