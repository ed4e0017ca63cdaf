package dbus

import (
	"context"

	"codeberg.org/mutker/fanmon/internal/errors"
	godbus "github.com/godbus/dbus/v5"
)

const (
	InventoryService   = "xyz.openbmc_project.Inventory.Manager"
	InventoryPath      = "/xyz/openbmc_project/inventory"
	InventoryInterface = "xyz.openbmc_project.Inventory.Manager"

	OperationalStatusInterface = "xyz.openbmc_project.State.Decorator.OperationalStatus"
	FunctionalProperty         = "Functional"
)

// Inventory writes functional state through the inventory manager
type Inventory struct {
	conn *godbus.Conn
}

func (c *Conn) Inventory() *Inventory {
	return &Inventory{conn: c.conn}
}

// SetFunctional notifies the inventory manager of an object's state. path is
// relative to the inventory root.
func (i *Inventory) SetFunctional(ctx context.Context, path string, functional bool) error {
	call := i.conn.Object(InventoryService, InventoryPath).
		CallWithContext(ctx, InventoryInterface+".Notify", 0, NotifyObjects(path, functional))
	if call.Err != nil {
		return errors.New().WrapData(ErrMethodFailed, call.Err, Context{
			BusName:   InventoryService,
			Path:      InventoryPath,
			Interface: InventoryInterface,
			Member:    "Notify",
		})
	}
	return nil
}

// NotifyObjects builds the Notify argument that sets Functional on path
func NotifyObjects(path string, functional bool) map[godbus.ObjectPath]map[string]map[string]godbus.Variant {
	return map[godbus.ObjectPath]map[string]map[string]godbus.Variant{
		godbus.ObjectPath(path): {
			OperationalStatusInterface: {
				FunctionalProperty: godbus.MakeVariant(functional),
			},
		},
	}
}
