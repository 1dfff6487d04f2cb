package service

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"

	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/datamodel"
)

const (
	takePictureCommand = "Device.Services.HomeAutomation.1.Camera.1.TakePicture()"

	ipAddrPath       = "Device.LocalAgent.X_ARRIS-COM_IPAddr"
	picTablePath     = "Device.Services.HomeAutomation.1.Camera.1.Pic."
	maxNumPicsPath   = "Device.Services.HomeAutomation.1.Camera.1.MaxNumberOfPics"
	picNumEntriesKey = "Device.Services.HomeAutomation.1.Camera.1.PicNumberOfEntries"
)

// Camera is the RPi_Camera/RPiZero_Camera Service: capturing a picture via
// an external capture tool (no cgo picamera binding exists in the Go
// ecosystem, so the capture step shells out, same boundary RecordImage
// crosses in the original by wrapping the picamera library) and persisting
// the result into the Pic table, evicting the oldest row past
// MaxNumberOfPics.
type Camera struct {
	directory      string
	filenamePrefix string
	captureCmd     string
	port           string
	store          *datamodel.Store
}

// NewCamera builds a Camera capturing into directory with filenamePrefix,
// serving URLs on port, invoking captureCmd (a raspistill-compatible binary
// taking "-o <path>") to perform the actual capture.
func NewCamera(directory, filenamePrefix, captureCmd, port string, store *datamodel.Store) *Camera {
	return &Camera{directory: directory, filenamePrefix: filenamePrefix, captureCmd: captureCmd, port: port, store: store}
}

// Invoke implements usp.Service. It recognizes only takePictureCommand;
// anything else is an error the dispatcher turns into ERROR 9000.
func (c *Camera) Invoke(command string, inputArgs map[string]string) (map[string]string, error) {
	if command != takePictureCommand {
		return nil, fmt.Errorf("camera: unrecognized command %q", command)
	}
	return c.takePicture()
}

func (c *Camera) takePicture() (map[string]string, error) {
	agentIP, err := c.store.Get(ipAddrPath)
	if err != nil {
		return nil, err
	}
	maxPics, err := c.store.GetInt(maxNumPicsPath)
	if err != nil {
		return nil, err
	}

	filenames, err := c.capture()
	if err != nil {
		return nil, err
	}

	paramMap := map[string]string{}
	for _, filename := range filenames {
		startingNumEntries, err := c.store.GetInt(picNumEntriesKey)
		if err != nil {
			return nil, err
		}

		instNum, err := c.store.Insert(picTablePath)
		if err != nil {
			return nil, err
		}
		log.Infof("camera: inserting picture instance [%d] into the store", instNum)

		if instNum-maxPics > 0 {
			oldestToKeep := instNum - maxPics
			for toDel := instNum - startingNumEntries; toDel <= oldestToKeep; toDel++ {
				oldPath := picTablePath + strconv.Itoa(toDel) + "."
				if err := c.store.Delete(oldPath); err != nil {
					log.Warningf("camera: failed to evict picture instance [%s]: %v", oldPath, err)
					continue
				}
				log.Infof("camera: removed picture instance [%s] from the store", oldPath)
			}
		}

		picURL := "http://" + agentIP + ":" + c.port + "/camera/" + filename
		urlParamPath := picTablePath + strconv.Itoa(instNum) + ".URL"
		if err := c.store.Update(urlParamPath, picURL); err != nil {
			return nil, err
		}
		log.Infof("camera: updated picture [%s] in the store at [%s]", picURL, urlParamPath)
		paramMap[urlParamPath] = picURL
	}

	return paramMap, nil
}

// capture shells out to captureCmd twice half a second apart, mirroring the
// original's two-shot capture, and returns the two filenames relative to
// directory.
func (c *Camera) capture() ([]string, error) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05") + "Z"
	filename1 := c.filenamePrefix + "_" + timestamp + "_1.jpg"
	filename2 := c.filenamePrefix + "_" + timestamp + "_2.jpg"

	if err := c.captureTo(filename1); err != nil {
		return nil, err
	}
	time.Sleep(500 * time.Millisecond)
	if err := c.captureTo(filename2); err != nil {
		return nil, err
	}

	return []string{filename1, filename2}, nil
}

func (c *Camera) captureTo(filename string) error {
	fullPath := c.directory + "/" + filename
	cmd := exec.Command(c.captureCmd, "-o", fullPath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("camera: capture to %s: %w", fullPath, err)
	}
	log.Infof("camera: captured picture [%s]", fullPath)
	return nil
}
