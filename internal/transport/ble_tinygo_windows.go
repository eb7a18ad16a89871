package transport

import "tinygo.org/x/bluetooth"

// GattCharacteristicProperties bits.
const (
	gattWriteWithoutResponse = 0x04
	gattWrite                = 0x08
)

func characteristicProperties(ch bluetooth.DeviceCharacteristic) WriteProperties {
	flags := ch.Properties()
	return WriteProperties{
		Known:                true,
		Write:                flags&gattWrite != 0,
		WriteWithoutResponse: flags&gattWriteWithoutResponse != 0,
	}
}
