// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import "fmt"

// StandardRequest enumerates the USB standard-request codes a control
// transfer's setup stage may carry (bRequest, when bmRequestType's type
// field is Standard).
type StandardRequest uint8

const (
	ReqGetStatus        StandardRequest = 0
	ReqClearFeature     StandardRequest = 1
	ReqSetFeature       StandardRequest = 3
	ReqSetAddress       StandardRequest = 5
	ReqGetDescriptor    StandardRequest = 6
	ReqSetDescriptor    StandardRequest = 7
	ReqGetConfiguration StandardRequest = 8
	ReqSetConfiguration StandardRequest = 9
	ReqGetInterface     StandardRequest = 10
	ReqSetInterface     StandardRequest = 11
	ReqSynchFrame       StandardRequest = 12
)

// DescriptorType enumerates the standard descriptor type codes carried in
// the high byte of a GET_DESCRIPTOR/SET_DESCRIPTOR request's wValue.
type DescriptorType uint8

const (
	DescDevice                  DescriptorType = 1
	DescConfiguration           DescriptorType = 2
	DescString                  DescriptorType = 3
	DescInterface               DescriptorType = 4
	DescEndpoint                DescriptorType = 5
	DescDeviceQualifier         DescriptorType = 6
	DescOtherSpeedConfiguration DescriptorType = 7
	DescInterfacePower          DescriptorType = 8
)

var descriptorTypeNames = map[DescriptorType]string{
	DescDevice:                  "device",
	DescConfiguration:           "configuration",
	DescString:                  "string",
	DescInterface:               "interface",
	DescEndpoint:                "endpoint",
	DescDeviceQualifier:         "device qualifier",
	DescOtherSpeedConfiguration: "other speed configuration",
	DescInterfacePower:          "interface power",
}

func descriptorTypeName(t DescriptorType) string {
	if name, ok := descriptorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type 0x%02x", uint8(t))
}

// StandardFeature enumerates the feature selectors named in
// CLEAR_FEATURE/SET_FEATURE's wValue.
type StandardFeature uint16

const (
	FeatureEndpointHalt       StandardFeature = 0
	FeatureDeviceRemoteWakeup StandardFeature = 1
	FeatureTestMode           StandardFeature = 2
)

var standardFeatureNames = map[StandardFeature]string{
	FeatureEndpointHalt:       "ENDPOINT_HALT",
	FeatureDeviceRemoteWakeup: "DEVICE_REMOTE_WAKEUP",
	FeatureTestMode:           "TEST_MODE",
}

func standardFeatureName(v uint16) string {
	if name, ok := standardFeatureNames[StandardFeature(v)]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", v)
}

// actionClause renders the setup stage's bRequest/wValue/wIndex as the
// verb-led clause of a control transfer summary.
func actionClause(reqType RequestType, req uint8, value, index, length uint16) string {
	if reqType != RequestTypeStandard {
		return fmt.Sprintf("%s request #%d, index %d, value %d", reqType, req, index, value)
	}

	switch StandardRequest(req) {
	case ReqGetStatus:
		return "Getting status"
	case ReqClearFeature:
		return fmt.Sprintf("Clearing feature %s", standardFeatureName(value))
	case ReqSetFeature:
		return fmt.Sprintf("Setting feature %s", standardFeatureName(value))
	case ReqSetAddress:
		return fmt.Sprintf("Setting address to %d", value)
	case ReqGetDescriptor, ReqSetDescriptor:
		descType := DescriptorType(value >> 8)
		idx := value & 0xFF
		verb := "Getting"
		if req == uint8(ReqSetDescriptor) {
			verb = "Setting"
		}
		clause := fmt.Sprintf("%s %s descriptor #%d", verb, descriptorTypeName(descType), idx)
		if descType == DescString && index > 0 {
			clause += fmt.Sprintf(", language 0x%04x", index)
		}
		return clause
	case ReqGetConfiguration:
		return "Getting configuration"
	case ReqSetConfiguration:
		return fmt.Sprintf("Setting configuration to %d", value)
	case ReqGetInterface:
		return fmt.Sprintf("Getting interface %d", index)
	case ReqSetInterface:
		return fmt.Sprintf("Setting interface %d to %d", index, value)
	case ReqSynchFrame:
		return "Synchronizing frame"
	default:
		return fmt.Sprintf("Unknown request #%d, index %d, value %d", req, index, value)
	}
}

// recipientClause renders the setup stage's recipient and wIndex into the
// "for ..." clause of a control transfer summary; an endpoint recipient's
// direction is taken from bit 7 of wIndex.
func recipientClause(recipient RequestRecipient, addr uint8, index uint16) string {
	switch recipient {
	case RecipientDevice:
		return fmt.Sprintf("device %d", addr)
	case RecipientInterface:
		return fmt.Sprintf("interface %d.%d", addr, index)
	case RecipientEndpoint:
		dir := "OUT"
		if index&0x80 != 0 {
			dir = "IN"
		}
		return fmt.Sprintf("endpoint %d.%d %s", addr, index&0x7F, dir)
	default:
		return fmt.Sprintf("device %d, index %d", addr, index)
	}
}

// lengthClause renders the requested-vs-transferred byte count clause of
// a control transfer summary.
func lengthClause(dir RequestDirection, length, dataSize uint16) string {
	if length == 0 && dataSize == 0 {
		return ""
	}
	verb := "writing"
	if dir == DirectionIn {
		verb = "reading"
	}
	if dataSize == length {
		return fmt.Sprintf(", %s %d bytes", verb, length)
	}
	return fmt.Sprintf(", %s %d of %d requested bytes", verb, dataSize, length)
}
