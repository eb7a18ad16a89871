package transport

import "tinygo.org/x/bluetooth"

// CoreBluetooth properties are not exposed by the adapter.
func characteristicProperties(bluetooth.DeviceCharacteristic) WriteProperties {
	return WriteProperties{}
}
