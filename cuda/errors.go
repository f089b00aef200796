// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

// ErrorKind is the closed set of errors reported by the driver, one per native status code (CUresult),
// plus Unknown for any status not listed.
//
// ErrorKind implements error: errors returned by this package wrap exactly one ErrorKind, and one can
// test for it with errors.Is(err, cuda.OutOfMemory) or extract it with KindOf.
type ErrorKind int32

// Values match the native status codes.
const (
	InvalidValue                ErrorKind = 1
	OutOfMemory                 ErrorKind = 2
	NotInitialized              ErrorKind = 3
	Deinitialized               ErrorKind = 4
	ProfilerDisabled            ErrorKind = 5
	ProfilerNotInitialized      ErrorKind = 6
	ProfilerAlreadyStarted      ErrorKind = 7
	ProfilerAlreadyStopped      ErrorKind = 8
	StubLibrary                 ErrorKind = 34
	DeviceUnavailable           ErrorKind = 46
	NoDevice                    ErrorKind = 100
	InvalidDevice               ErrorKind = 101
	DeviceNotLicensed           ErrorKind = 102
	InvalidImage                ErrorKind = 200
	InvalidContext              ErrorKind = 201
	ContextAlreadyCurrent       ErrorKind = 202
	MapFailed                   ErrorKind = 205
	UnmapFailed                 ErrorKind = 206
	ArrayIsMapped               ErrorKind = 207
	AlreadyMapped               ErrorKind = 208
	NoBinaryForGPU              ErrorKind = 209
	AlreadyAcquired             ErrorKind = 210
	NotMapped                   ErrorKind = 211
	NotMappedAsArray            ErrorKind = 212
	NotMappedAsPointer          ErrorKind = 213
	ECCUncorrectable            ErrorKind = 214
	UnsupportedLimit            ErrorKind = 215
	ContextAlreadyInUse         ErrorKind = 216
	PeerAccessUnsupported       ErrorKind = 217
	InvalidPTX                  ErrorKind = 218
	InvalidGraphicsContext      ErrorKind = 219
	NVLinkUncorrectable         ErrorKind = 220
	JITCompilerNotFound         ErrorKind = 221
	UnsupportedPTXVersion       ErrorKind = 222
	JITCompilationDisabled      ErrorKind = 223
	UnsupportedExecAffinity     ErrorKind = 224
	UnsupportedDevSideSync      ErrorKind = 225
	InvalidSource               ErrorKind = 300
	FileNotFound                ErrorKind = 301
	SharedObjectSymbolNotFound  ErrorKind = 302
	SharedObjectInitFailed      ErrorKind = 303
	OperatingSystem             ErrorKind = 304
	InvalidHandle               ErrorKind = 400
	IllegalState                ErrorKind = 401
	NotFound                    ErrorKind = 500
	NotReady                    ErrorKind = 600
	IllegalAddress              ErrorKind = 700
	LaunchOutOfResources        ErrorKind = 701
	LaunchTimeout               ErrorKind = 702
	LaunchIncompatibleTexturing ErrorKind = 703
	PeerAccessAlreadyEnabled    ErrorKind = 704
	PeerAccessNotEnabled        ErrorKind = 705
	PrimaryContextActive        ErrorKind = 708
	ContextIsDestroyed          ErrorKind = 709
	Assert                      ErrorKind = 710
	TooManyPeers                ErrorKind = 711
	HostMemoryAlreadyRegistered ErrorKind = 712
	HostMemoryNotRegistered     ErrorKind = 713
	HardwareStackError          ErrorKind = 714
	IllegalInstruction          ErrorKind = 715
	MisalignedAddress           ErrorKind = 716
	InvalidAddressSpace         ErrorKind = 717
	InvalidPC                   ErrorKind = 718
	LaunchFailed                ErrorKind = 719
	CooperativeLaunchTooLarge   ErrorKind = 720
	NotPermitted                ErrorKind = 800
	NotSupported                ErrorKind = 801
	SystemNotReady              ErrorKind = 802
	SystemDriverMismatch        ErrorKind = 803
	CompatNotSupportedOnDevice  ErrorKind = 804
	MPSConnectionFailed         ErrorKind = 805
	MPSRPCFailure               ErrorKind = 806
	MPSServerNotReady           ErrorKind = 807
	MPSMaxClientsReached        ErrorKind = 808
	MPSMaxConnectionsReached    ErrorKind = 809
	MPSClientTerminated         ErrorKind = 810
	CDPNotSupported             ErrorKind = 811
	CDPVersionMismatch          ErrorKind = 812
	StreamCaptureUnsupported    ErrorKind = 900
	StreamCaptureInvalidated    ErrorKind = 901
	StreamCaptureMerge          ErrorKind = 902
	StreamCaptureUnmatched      ErrorKind = 903
	StreamCaptureUnjoined       ErrorKind = 904
	StreamCaptureIsolation      ErrorKind = 905
	StreamCaptureImplicit       ErrorKind = 906
	CapturedEvent               ErrorKind = 907
	StreamCaptureWrongThread    ErrorKind = 908
	Timeout                     ErrorKind = 909
	GraphExecUpdateFailure      ErrorKind = 910
	ExternalDevice              ErrorKind = 911
	InvalidClusterSize          ErrorKind = 912
	Unknown                     ErrorKind = 999
)

type errorKindInfo struct {
	name, message string
}

// errorKinds registers every ErrorKind. Status codes not in this table classify as Unknown.
var errorKinds = map[ErrorKind]errorKindInfo{
	InvalidValue:                {"InvalidValue", "one or more parameters are outside the acceptable range of values"},
	OutOfMemory:                 {"OutOfMemory", "unable to allocate enough memory for the operation"},
	NotInitialized:              {"NotInitialized", "the driver was not initialized, or its initialization failed"},
	Deinitialized:               {"Deinitialized", "the driver is shutting down"},
	ProfilerDisabled:            {"ProfilerDisabled", "profiler not initialized for this run"},
	ProfilerNotInitialized:      {"ProfilerNotInitialized", "profiler not initialized (deprecated)"},
	ProfilerAlreadyStarted:      {"ProfilerAlreadyStarted", "profiler already started (deprecated)"},
	ProfilerAlreadyStopped:      {"ProfilerAlreadyStopped", "profiler already stopped (deprecated)"},
	StubLibrary:                 {"StubLibrary", "the loaded driver is a stub library"},
	DeviceUnavailable:           {"DeviceUnavailable", "the device is currently unavailable"},
	NoDevice:                    {"NoDevice", "no CUDA-capable device detected"},
	InvalidDevice:               {"InvalidDevice", "invalid device ordinal, or action invalid for the device"},
	DeviceNotLicensed:           {"DeviceNotLicensed", "the Grid license is not applied"},
	InvalidImage:                {"InvalidImage", "invalid device kernel image"},
	InvalidContext:              {"InvalidContext", "no context bound to the current thread, or invalid context handle"},
	ContextAlreadyCurrent:       {"ContextAlreadyCurrent", "the context is already current (deprecated)"},
	MapFailed:                   {"MapFailed", "map or register operation failed"},
	UnmapFailed:                 {"UnmapFailed", "unmap or unregister operation failed"},
	ArrayIsMapped:               {"ArrayIsMapped", "array is mapped and cannot be destroyed"},
	AlreadyMapped:               {"AlreadyMapped", "resource already mapped"},
	NoBinaryForGPU:              {"NoBinaryForGPU", "no kernel image suitable for the device"},
	AlreadyAcquired:             {"AlreadyAcquired", "resource already acquired"},
	NotMapped:                   {"NotMapped", "resource not mapped"},
	NotMappedAsArray:            {"NotMappedAsArray", "mapped resource not available as an array"},
	NotMappedAsPointer:          {"NotMappedAsPointer", "mapped resource not available as a pointer"},
	ECCUncorrectable:            {"ECCUncorrectable", "uncorrectable ECC error detected"},
	UnsupportedLimit:            {"UnsupportedLimit", "limit not supported by the device"},
	ContextAlreadyInUse:         {"ContextAlreadyInUse", "context already bound to another CPU thread"},
	PeerAccessUnsupported:       {"PeerAccessUnsupported", "peer access not supported across the devices"},
	InvalidPTX:                  {"InvalidPTX", "PTX JIT compilation failed"},
	InvalidGraphicsContext:      {"InvalidGraphicsContext", "invalid OpenGL or DirectX context"},
	NVLinkUncorrectable:         {"NVLinkUncorrectable", "uncorrectable NVLink error detected"},
	JITCompilerNotFound:         {"JITCompilerNotFound", "PTX JIT compiler library not found"},
	UnsupportedPTXVersion:       {"UnsupportedPTXVersion", "PTX compiled with an unsupported toolchain"},
	JITCompilationDisabled:      {"JITCompilationDisabled", "PTX JIT compilation disabled"},
	UnsupportedExecAffinity:     {"UnsupportedExecAffinity", "execution affinity type not supported by the device"},
	UnsupportedDevSideSync:      {"UnsupportedDevSideSync", "unsupported device-side synchronization call"},
	InvalidSource:               {"InvalidSource", "invalid device kernel source"},
	FileNotFound:                {"FileNotFound", "file not found"},
	SharedObjectSymbolNotFound:  {"SharedObjectSymbolNotFound", "shared object symbol not resolved"},
	SharedObjectInitFailed:      {"SharedObjectInitFailed", "shared object initialization failed"},
	OperatingSystem:             {"OperatingSystem", "an OS call failed"},
	InvalidHandle:               {"InvalidHandle", "invalid resource handle"},
	IllegalState:                {"IllegalState", "resource not in a valid state for the operation"},
	NotFound:                    {"NotFound", "named symbol not found"},
	NotReady:                    {"NotReady", "asynchronous operations not completed yet"},
	IllegalAddress:              {"IllegalAddress", "load or store on an invalid memory address"},
	LaunchOutOfResources:        {"LaunchOutOfResources", "not enough resources to launch"},
	LaunchTimeout:               {"LaunchTimeout", "kernel execution timed out"},
	LaunchIncompatibleTexturing: {"LaunchIncompatibleTexturing", "launch with incompatible texturing mode"},
	PeerAccessAlreadyEnabled:    {"PeerAccessAlreadyEnabled", "peer access already enabled"},
	PeerAccessNotEnabled:        {"PeerAccessNotEnabled", "peer access not enabled"},
	PrimaryContextActive:        {"PrimaryContextActive", "primary context already initialized"},
	ContextIsDestroyed:          {"ContextIsDestroyed", "the current context was destroyed or is an uninitialized primary context"},
	Assert:                      {"Assert", "device-side assert triggered"},
	TooManyPeers:                {"TooManyPeers", "peer access resources exhausted"},
	HostMemoryAlreadyRegistered: {"HostMemoryAlreadyRegistered", "host memory range already registered"},
	HostMemoryNotRegistered:     {"HostMemoryNotRegistered", "host memory range not registered"},
	HardwareStackError:          {"HardwareStackError", "device stack error"},
	IllegalInstruction:          {"IllegalInstruction", "illegal instruction"},
	MisalignedAddress:           {"MisalignedAddress", "misaligned address"},
	InvalidAddressSpace:         {"InvalidAddressSpace", "address not in an allowed address space"},
	InvalidPC:                   {"InvalidPC", "program counter wrapped its address space"},
	LaunchFailed:                {"LaunchFailed", "exception while executing a kernel"},
	CooperativeLaunchTooLarge:   {"CooperativeLaunchTooLarge", "too many blocks for a cooperative launch"},
	NotPermitted:                {"NotPermitted", "operation not permitted"},
	NotSupported:                {"NotSupported", "operation not supported on this system or device"},
	SystemNotReady:              {"SystemNotReady", "system not ready to start CUDA work"},
	SystemDriverMismatch:        {"SystemDriverMismatch", "display driver and CUDA driver versions mismatch"},
	CompatNotSupportedOnDevice:  {"CompatNotSupportedOnDevice", "forward compatibility not supported by the device"},
	MPSConnectionFailed:         {"MPSConnectionFailed", "MPS connection failed"},
	MPSRPCFailure:               {"MPSRPCFailure", "MPS RPC failure"},
	MPSServerNotReady:           {"MPSServerNotReady", "MPS server not ready"},
	MPSMaxClientsReached:        {"MPSMaxClientsReached", "MPS maximum number of clients reached"},
	MPSMaxConnectionsReached:    {"MPSMaxConnectionsReached", "MPS maximum number of connections reached"},
	MPSClientTerminated:         {"MPSClientTerminated", "MPS client terminated"},
	CDPNotSupported:             {"CDPNotSupported", "CUDA dynamic parallelism not supported"},
	CDPVersionMismatch:          {"CDPVersionMismatch", "CUDA dynamic parallelism version mismatch"},
	StreamCaptureUnsupported:    {"StreamCaptureUnsupported", "operation not permitted while the stream is capturing"},
	StreamCaptureInvalidated:    {"StreamCaptureInvalidated", "capture sequence invalidated by a previous error"},
	StreamCaptureMerge:          {"StreamCaptureMerge", "operation would merge two independent capture sequences"},
	StreamCaptureUnmatched:      {"StreamCaptureUnmatched", "capture not initiated in this stream"},
	StreamCaptureUnjoined:       {"StreamCaptureUnjoined", "capture sequence has an unjoined fork"},
	StreamCaptureIsolation:      {"StreamCaptureIsolation", "dependency would cross the capture sequence boundary"},
	StreamCaptureImplicit:       {"StreamCaptureImplicit", "disallowed implicit dependency on a capture sequence"},
	CapturedEvent:               {"CapturedEvent", "operation not permitted on an event recorded in a capturing stream"},
	StreamCaptureWrongThread:    {"StreamCaptureWrongThread", "capture sequence ended in a different thread"},
	Timeout:                     {"Timeout", "wait operation timed out"},
	GraphExecUpdateFailure:      {"GraphExecUpdateFailure", "graph update violated instantiated graph constraints"},
	ExternalDevice:              {"ExternalDevice", "asynchronous error in an external device"},
	InvalidClusterSize:          {"InvalidClusterSize", "cluster misconfiguration"},
	Unknown:                     {"Unknown", "unknown internal error"},
}

// Classify returns the ErrorKind registered for the native status code, or Unknown if the code is
// not registered. It is total: it never fails.
//
// Classify is meant for failure codes: driver.Success is not an error and classifies as Unknown.
func Classify(code driver.Result) ErrorKind {
	kind := ErrorKind(code)
	if _, found := errorKinds[kind]; found {
		return kind
	}
	return Unknown
}

// String returns the name of the kind, e.g. "OutOfMemory".
func (k ErrorKind) String() string {
	if info, found := errorKinds[k]; found {
		return info.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int32(k))
}

// Error implements error.
func (k ErrorKind) Error() string {
	info, found := errorKinds[k]
	if !found {
		info = errorKinds[Unknown]
	}
	return fmt.Sprintf("CUDA error %s (%d): %s", k.String(), int32(k), info.message)
}

// KindOf returns the ErrorKind wrapped in err. It returns false if err is nil or not an error
// returned by this package.
func KindOf(err error) (ErrorKind, bool) {
	var kind ErrorKind
	if err == nil || !errors.As(err, &kind) {
		return Unknown, false
	}
	return kind, true
}

// check converts the status of the native call op to an error. Success short-circuits to nil.
func check(r driver.Result, op string) error {
	if r == driver.Success {
		return nil
	}
	return errors.Wrap(Classify(r), op)
}
